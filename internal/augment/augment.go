// Package augment adds optional AI-generated relevance rationales to already
// ranked match results. The deterministic ranking is authoritative: the
// augmenter never re-ranks, and every failure degrades locally to a nil
// rationale with scores unchanged.
package augment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/trialscout/trialscout/internal/trial"
)

const (
	DefaultTopK        = 5
	DefaultConcurrency = 3
	DefaultCallTimeout = 20 * time.Second

	// MaxAdjustment bounds the advisory score delta. The adjusted value is
	// written only to the breakdown's display copy, never to the ordering.
	MaxAdjustment = 0.05
)

type Options struct {
	TopK        int
	Concurrency int
	CallTimeout time.Duration
}

type Augmenter struct {
	caller      LLMCaller
	topK        int
	concurrency int
	timeout     time.Duration
}

// New constructs an augmenter around an explicitly injected caller, scoped to
// the matching session.
func New(caller LLMCaller, opts Options) *Augmenter {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Augmenter{
		caller:      caller,
		topK:        opts.TopK,
		concurrency: opts.Concurrency,
		timeout:     opts.CallTimeout,
	}
}

type rationaleResponse struct {
	Rationale  string  `json:"rationale"`
	Adjustment float64 `json:"adjustment"`
}

// Augment enriches the top-K results in place with rationale text. Calls fan
// out under a bounded worker pool so one slow call never delays the batch
// past its own timeout. Partial results are a correct terminal state.
func (a *Augmenter) Augment(ctx context.Context, profile trial.PatientProfile, results []trial.MatchResult) []trial.MatchResult {
	if a == nil || a.caller == nil || len(results) == 0 {
		return results
	}
	n := a.topK
	if n > len(results) {
		n = len(results)
	}

	sem := make(chan struct{}, a.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(res *trial.MatchResult) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			a.augmentOne(ctx, profile, res)
		}(&results[i])
	}
	wg.Wait()
	return results
}

func (a *Augmenter) augmentOne(ctx context.Context, profile trial.PatientProfile, res *trial.MatchResult) {
	prompt := buildPrompt(profile, res)

	raw, err := a.generateWithRetry(ctx, prompt)
	if err != nil {
		log.Printf("augment rationale failed trial=%s: %v", res.Trial.NCTID, err)
		res.AIRationale = nil
		return
	}

	var parsed rationaleResponse
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil {
		log.Printf("augment rationale malformed trial=%s: %v", res.Trial.NCTID, err)
		res.AIRationale = nil
		return
	}
	rationale := strings.TrimSpace(parsed.Rationale)
	if rationale == "" {
		res.AIRationale = nil
		return
	}

	res.AIRationale = &rationale
	res.Breakdown[trial.BreakdownAdjustedScore] = clamp01(res.Score + clampAdjustment(parsed.Adjustment))
}

// generateWithRetry makes one bounded attempt plus at most one retry on
// transient transport faults. No fallback model, no further retries: total
// latency stays predictable.
func (a *Augmenter) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	attempt := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.caller.GenerateJSON(callCtx, prompt)
	}

	raw, err := attempt()
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	if classifyTransportError(err) != failureTransient {
		return "", err
	}
	return attempt()
}

func buildPrompt(profile trial.PatientProfile, res *trial.MatchResult) string {
	var b strings.Builder
	b.WriteString("Explain in 2-3 sentences why this clinical trial may be relevant to the patient, ")
	b.WriteString("citing concrete eligibility signals. Do not claim the patient is eligible.\n\n")

	fmt.Fprintf(&b, "Patient: cancer type %q", profile.CancerType)
	if profile.Stage != "" {
		fmt.Fprintf(&b, ", stage %s", profile.Stage)
	}
	if profile.Age != nil {
		fmt.Fprintf(&b, ", age %d", *profile.Age)
	}
	if len(profile.Biomarkers) > 0 {
		fmt.Fprintf(&b, ", biomarkers %s", strings.Join(profile.Biomarkers, ", "))
	}
	if len(profile.PriorTreatments) > 0 {
		fmt.Fprintf(&b, ", prior treatments %s", strings.Join(profile.PriorTreatments, ", "))
	}
	b.WriteString("\n\n")

	t := res.Trial
	fmt.Fprintf(&b, "Trial %s: %s\n", t.NCTID, t.Title)
	if t.BriefSummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", truncate(t.BriefSummary, 1500))
	}
	fmt.Fprintf(&b, "Parsed eligibility: %s\n", describeParsed(t.Parsed))
	fmt.Fprintf(&b, "Deterministic score: %.3f\n\n", res.Score)

	b.WriteString(`Required JSON schema:
{
  "rationale": "string (2-3 sentences)",
  "adjustment": "float in [-0.05, 0.05], advisory confidence nudge"
}`)
	return b.String()
}

func describeParsed(p trial.ParsedEligibility) string {
	parts := []string{}
	if p.MinAge != nil {
		parts = append(parts, fmt.Sprintf("min age %d", *p.MinAge))
	}
	if p.MaxAge != nil {
		parts = append(parts, fmt.Sprintf("max age %d", *p.MaxAge))
	}
	parts = append(parts, "sex "+string(p.Sex))
	if len(p.Biomarkers) > 0 {
		parts = append(parts, "biomarkers mentioned: "+strings.Join(p.Biomarkers, ", "))
	}
	if p.PriorTreatment != trial.PriorTreatmentUnspecified {
		parts = append(parts, "prior treatment "+strings.ToLower(string(p.PriorTreatment)))
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func clampAdjustment(d float64) float64 {
	if d > MaxAdjustment {
		return MaxAdjustment
	}
	if d < -MaxAdjustment {
		return -MaxAdjustment
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
