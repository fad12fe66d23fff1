package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/odyssey-erp/romaneios/internal/app"
	"github.com/odyssey-erp/romaneios/internal/reconcile"
)

var rule = strings.Repeat("=", 70)

type renderer struct {
	title *color.Color
	good  *color.Color
	warn  *color.Color
	bad   *color.Color
}

func newRenderer(colored bool) renderer {
	r := renderer{
		title: color.New(color.Bold),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
	}
	if !colored {
		for _, c := range []*color.Color{r.title, r.good, r.warn, r.bad} {
			c.DisableColor()
		}
	}
	return r
}

func (r renderer) header(w io.Writer, cfg *app.Config) {
	mode := "production"
	if cfg.InventoryOffline {
		mode = "offline (inventory system not called)"
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, r.title.Sprint("ROMANEIO VERIFIER"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Mode:         %s\n", mode)
	fmt.Fprintf(w, "Interval:     %s\n", cfg.VerifyInterval)
	fmt.Fprintf(w, "Max attempts: %d\n", cfg.VerifyMaxAttempts)
	fmt.Fprintln(w, rule)
}

func (r renderer) disabled(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.warn.Sprint("[NOTICE] Verifier disabled (VERIFY_ENABLED=false)."))
	fmt.Fprintln(w, "         Enable it to run automatic verification.")
}

func (r renderer) iteration(w io.Writer, n int) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "RUN #%d\n", n)
	fmt.Fprintln(w, rule)
}

func (r renderer) summary(w io.Writer, s reconcile.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, r.title.Sprint("RUN SUMMARY"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run:                %s\n", s.RunID)
	fmt.Fprintf(w, "Started:            %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Total verified:     %d\n", s.Total)
	fmt.Fprintf(w, "Matched (open):     %s\n", r.count(r.good, s.Matched))
	fmt.Fprintf(w, "Divergent (retry):  %s\n", r.count(r.warn, s.DivergentRetry))
	fmt.Fprintf(w, "Attempts exhausted: %s\n", r.count(r.bad, s.MaxAttemptsExhausted))
	fmt.Fprintf(w, "Awaiting count:     %d\n", s.AwaitingCount)
	fmt.Fprintf(w, "No data:            %d\n", s.NoData)
	fmt.Fprintf(w, "Not eligible:       %d\n", s.NotEligible)
	fmt.Fprintf(w, "Skipped (busy):     %d\n", s.Skipped)
	fmt.Fprintf(w, "Errors:             %s\n", r.count(r.bad, s.Errors))
	fmt.Fprintf(w, "Duration:           %.2f seconds\n", s.Duration.Seconds())
	if s.Cancelled {
		fmt.Fprintln(w, r.warn.Sprint("Run interrupted before every record was verified."))
	}
	fmt.Fprintln(w, rule)

	if errs := s.ErrorDetails(); len(errs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Error details:")
		for _, d := range errs {
			fmt.Fprintf(w, "  - Purchase order %s: %s\n", d.PurchaseOrder, d.Message)
		}
	}
}

func (r renderer) result(w io.Writer, res reconcile.Result) {
	c := r.warn
	switch res.Outcome {
	case reconcile.OutcomeMatched:
		c = r.good
	case reconcile.OutcomeError, reconcile.OutcomeMaxAttemptsExhausted:
		c = r.bad
	}
	fmt.Fprintf(w, "Romaneio %d (purchase order %s): %s\n", res.RomaneioID, res.PurchaseOrder, c.Sprint(res.Outcome))
	if res.Status != "" {
		fmt.Fprintf(w, "Status: %s, attempt %d\n", res.Status.Label(), res.Attempt)
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
}

// count highlights non-zero counters.
func (r renderer) count(c *color.Color, n int) string {
	if n == 0 {
		return "0"
	}
	return c.Sprint(n)
}
