// Package signals extracts the individual fraud signals that feed the
// weighted fraud score. Each extractor is pure: it scores data already
// fetched and never touches storage.
package signals

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// Result is one extractor's contribution. Score is in [0,1]; Reasons
// name the conditions that fired, in the order they were checked.
type Result struct {
	Score   float64
	Reasons []string
}

// Risky reports whether any condition fired.
func (r Result) Risky() bool {
	return len(r.Reasons) > 0
}

// Reason joins the fired conditions into a single line for display.
func (r Result) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

func (r *Result) add(score float64, reason string) {
	r.Score += score
	r.Reasons = append(r.Reasons, reason)
}

// Amount scores the claim amount against fixed bands. Bands do not
// stack; exactly one can fire.
func Amount(amount float64) Result {
	var r Result
	switch {
	case amount > 500_000:
		r.add(0.8, "claim amount exceeds 500,000")
	case amount > 100_000:
		r.add(0.4, "claim amount exceeds 100,000")
	case amount < 100:
		r.add(0.2, fmt.Sprintf("unusually small claim amount %.2f", amount))
	}
	return r
}

// Timing scores how soon after policy inception the claim was filed
// and whether it was filed on a weekend. The two conditions stack.
func Timing(filedAt, now time.Time) Result {
	var r Result
	days := now.Sub(filedAt).Hours() / 24
	if days < 7 {
		r.add(0.6, "claim filed within 7 days of policy start")
	}
	switch filedAt.Weekday() {
	case time.Saturday, time.Sunday:
		r.add(0.1, "claim filed on a weekend")
	}
	return r
}

// History scores the customer's prior claims. All three conditions
// stack independently.
func History(h *domain.CustomerHistory) Result {
	var r Result
	if h == nil {
		return r
	}
	if h.TotalClaims > 5 {
		r.add(0.3, fmt.Sprintf("customer has %d prior claims", h.TotalClaims))
	}
	if h.AvgFraudScore > 0.6 {
		r.add(0.4, fmt.Sprintf("customer average fraud score %.2f", h.AvgFraudScore))
	}
	if h.RejectedClaims > 2 {
		r.add(0.3, fmt.Sprintf("customer has %d rejected claims", h.RejectedClaims))
	}
	return r
}

// Geographic is a placeholder extractor. It always scores zero until a
// location data source is wired in, but it still occupies its weight
// in the blend.
func Geographic(claim *domain.Claim) Result {
	return Result{}
}

// suspiciousKeywords are matched case-insensitively as substrings.
var suspiciousKeywords = []string{"urgent", "emergency", "immediate", "cash", "desperate"}

// Description scores the free-text description. Keyword pressure and
// the two length conditions stack, though the length conditions are
// mutually exclusive.
func Description(description string) Result {
	var r Result
	lower := strings.ToLower(description)
	matches := 0
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	if matches > 2 {
		r.add(0.3, fmt.Sprintf("description contains %d suspicious keywords", matches))
	}
	if n := len(description); n < 20 {
		r.add(0.2, "description is unusually short")
	} else if n > 2000 {
		r.add(0.1, "description is unusually long")
	}
	return r
}
