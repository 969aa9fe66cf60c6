package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wolfman30/medinotes/internal/audit"
)

// auditQuerier is the read side of the audit store.
type auditQuerier interface {
	QueryEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// runAudit prints a subject's consultation audit trail:
//
//	migrate audit -subject user_123 [-consultation id] [-type consultation.failed] [-since 24h] [-limit 50]
func runAudit(ctx context.Context, q auditQuerier, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "caller subject (JWT sub) to report on")
	consultationID := fs.String("consultation", "", "limit to one consultation id")
	eventType := fs.String("type", "", "limit to one event type")
	since := fs.Duration("since", 0, "only events newer than this duration")
	limit := fs.Int("limit", 50, "maximum events to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("audit requires -subject")
	}

	filter := audit.Filter{
		Subject:        *subject,
		ConsultationID: *consultationID,
		EventType:      audit.EventType(*eventType),
		Limit:          *limit,
	}
	if *since > 0 {
		filter.StartTime = time.Now().Add(-*since)
	}

	events, err := q.QueryEvents(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no audit events")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tCONSULTATION\tPROVIDER\tMODEL\tFRAGMENTS\tDURATION")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.EventType,
			e.ConsultationID,
			e.Provider,
			e.Model,
			e.Fragments,
			time.Duration(e.DurationMS)*time.Millisecond,
		)
	}
	return tw.Flush()
}
