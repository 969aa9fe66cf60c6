// Command llmtest streams a sample consultation through the configured
// provider chain so credentials and model IDs can be checked without the
// HTTP stack.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/medinotes/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medinotes/internal/config"
	"github.com/wolfman30/medinotes/internal/summary"
	"github.com/wolfman30/medinotes/pkg/logging"
)

var sampleVisit = summary.Visit{
	PatientName: "Test Patient",
	DateOfVisit: "2025-01-15",
	Notes:       "Follow-up for seasonal allergies. Symptoms improved on cetirizine. Mild congestion at night. Continue medication, saline rinse, review in 3 months.",
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Summary provider test")
	fmt.Println(strings.Repeat("=", 60))

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("failed to build provider %q: %v\n", cfg.LLMProvider, err)
		os.Exit(1)
	}
	defer llm.Close()
	fmt.Printf("provider=%s model=%s fallback=%s\n\n", llm.Provider, llm.Model, cfg.FallbackProvider)

	result, err := streamSample(ctx, llm.Client, llm.Model, os.Stdout)
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	if err != nil {
		fmt.Printf("stream failed after %d fragments: %v\n", result.Fragments, err)
		os.Exit(1)
	}
	fmt.Printf("fragments=%d first_fragment=%s total=%s fallback_used=%t\n",
		result.Fragments,
		result.FirstFragment.Round(time.Millisecond),
		result.Total.Round(time.Millisecond),
		result.FallbackUsed,
	)
	fmt.Printf("tokens: in=%d out=%d\n", result.Usage.InputTokens, result.Usage.OutputTokens)
}

type streamResult struct {
	Fragments     int
	FirstFragment time.Duration
	Total         time.Duration
	FallbackUsed  bool
	Usage         summary.TokenUsage
}

// streamSample sends the sample visit through client and copies fragments
// to out as they arrive.
func streamSample(ctx context.Context, client summary.StreamingLLMClient, model string, out io.Writer) (streamResult, error) {
	var res streamResult
	start := time.Now()

	chunks, err := client.CompleteStream(ctx, summary.BuildRequest(sampleVisit, model, 0, -1))
	if err != nil {
		return res, err
	}
	for chunk := range chunks {
		if chunk.Fallback {
			res.FallbackUsed = true
		}
		if chunk.Text != "" {
			if res.Fragments == 0 {
				res.FirstFragment = time.Since(start)
			}
			res.Fragments++
			_, _ = io.WriteString(out, chunk.Text)
		}
		if chunk.Done {
			res.Total = time.Since(start)
			res.Usage = chunk.Usage
			return res, chunk.Error
		}
	}
	res.Total = time.Since(start)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
