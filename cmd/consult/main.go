// Command consult submits consultation notes to the MediNotes API and
// prints the summary as it streams.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/medinotes/internal/consult"
	"github.com/wolfman30/medinotes/internal/identity"
	"github.com/wolfman30/medinotes/internal/render"
	"github.com/wolfman30/medinotes/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Getenv, os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	profilePath string
	profileSet  bool
	patient     string
	date        string
	notes       string
	notesFile   string
	token       string
	html        string
	api         string
	devSecret   string
	plan        string
	required    string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("consult", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.profilePath, "profile", defaultProfilePath(), "YAML profile with api_url, token settings and defaults")
	fs.StringVar(&o.patient, "patient", "", "patient name")
	fs.StringVar(&o.date, "date", time.Now().Format(consult.DateLayout), "date of visit (YYYY-MM-DD)")
	fs.StringVar(&o.notes, "notes", "", "consultation notes")
	fs.StringVar(&o.notesFile, "notes-file", "", "read notes from a file, or - for stdin")
	fs.StringVar(&o.token, "token", "", "bearer session token")
	fs.StringVar(&o.html, "html", "", "also write the rendered summary to this HTML file")
	fs.StringVar(&o.api, "api", "", "API base URL")
	fs.StringVar(&o.devSecret, "dev-secret", "", "mint development tokens with this shared secret")
	fs.StringVar(&o.plan, "plan", "", "plan claim for development tokens")
	fs.StringVar(&o.required, "required-plan", "", "plan that unlocks the form")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "profile" {
			o.profileSet = true
		}
	})
	return o, nil
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".medinotes", "profile.yaml")
}

// resolve merges the profile, environment and flags into the final
// settings.
func resolve(o options, getenv func(string) string) (Profile, error) {
	p, err := loadProfile(o.profilePath, o.profileSet)
	if err != nil {
		return p, err
	}
	p.applyEnv(getenv)
	override := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	override(&p.APIURL, o.api)
	override(&p.Token, o.token)
	override(&p.DevSecret, o.devSecret)
	override(&p.Plan, o.plan)
	override(&p.RequiredPlan, o.required)
	override(&p.HTMLOutput, o.html)
	return p, nil
}

// identityFor picks the credential source: an explicit token, a shared
// development secret, or the token environment variable.
func identityFor(p Profile) consult.IdentityProvider {
	switch {
	case p.Token != "":
		return consult.StaticIdentity(p.Token, p.RequiredPlan)
	case p.DevSecret != "":
		return consult.NewSignerIdentity(&identity.Signer{
			Secret:  []byte(p.DevSecret),
			Subject: p.Subject,
			Plan:    p.Plan,
			TTL:     p.TokenTTL,
		}, p.RequiredPlan)
	default:
		return consult.EnvIdentity(p.TokenEnv, p.RequiredPlan)
	}
}

func readNotes(o options, stdin io.Reader) (string, error) {
	switch o.notesFile {
	case "":
		return o.notes, nil
	case "-":
		data, err := io.ReadAll(bufio.NewReader(stdin))
		if err != nil {
			return "", fmt.Errorf("read notes from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(o.notesFile)
		if err != nil {
			return "", fmt.Errorf("read notes: %w", err)
		}
		return string(data), nil
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	p, err := resolve(o, getenv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := logging.NewWithWriter(p.LogLevel, stderr)

	notes, err := readNotes(o, stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	visitDate, err := consult.ParseVisitDate(o.date)
	if err != nil {
		fmt.Fprintln(stderr, "Date of visit must be YYYY-MM-DD")
		return 2
	}

	client, err := consult.NewClient(p.APIURL, identityFor(p), consult.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	form := consult.NewForm(client, newTerminalDisplay(stdout, stderr))

	// Interrupts tear the form down, which aborts the open request.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			form.Close()
		case <-done:
		}
	}()

	session, err := form.Submit(ctx, consult.SubmissionRequest{
		PatientName: o.patient,
		VisitDate:   visitDate,
		Notes:       notes,
	})

	if session != nil && p.HTMLOutput != "" && session.Buffer() != "" {
		if werr := writeHTML(p.HTMLOutput, o.patient, session.Buffer()); werr != nil {
			logger.Error("failed to write html output", "error", werr)
		} else {
			fmt.Fprintf(stderr, "Rendered summary written to %s\n", p.HTMLOutput)
		}
	}

	if err != nil {
		if session != nil && session.Buffer() != "" {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintln(stderr, consult.UserMessage(err))
		logger.Debug("submission failed", "error", err)
		return 1
	}
	return 0
}

func writeHTML(path, patient, buffer string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	title := "Consultation summary"
	if strings.TrimSpace(patient) != "" {
		title += " - " + patient
	}
	if err := render.Page(f, title, buffer); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
