// Package web serves the landing page, or a pre-built frontend export when
// one is deployed next to the binary.
package web

import (
	"embed"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/wolfman30/medinotes/pkg/logging"
)

//go:embed templates/index.html
var templatesFS embed.FS

var landingTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type feature struct {
	Title string
	Body  string
}

type landingData struct {
	Product   string
	SignInURL string
	Endpoint  string
	Features  []feature
}

var features = []feature{
	{Title: "Professional Summaries", Body: "Generate comprehensive medical record summaries from your notes"},
	{Title: "Action Items", Body: "Clear next steps and follow-up actions for every consultation"},
	{Title: "Patient Emails", Body: "Draft clear, patient-friendly email communications automatically"},
}

// Handler returns the handler mounted at "/". If staticDir holds an
// index.html the whole directory is served, otherwise the built-in landing
// page answers "/" and everything else is 404.
func Handler(staticDir, signInURL string, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if hasIndex(staticDir) {
		logger.Info("serving static frontend", "dir", staticDir)
		return http.FileServer(http.Dir(staticDir))
	}

	data := landingData{
		Product:   "MediNotes Pro",
		SignInURL: signInURL,
		Endpoint:  "/api/consultation",
		Features:  features,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := landingTemplate.Execute(w, data); err != nil {
			logger.Error("failed to render landing page", "error", err)
		}
	})
}

func hasIndex(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "index.html"))
	return err == nil && !info.IsDir()
}
