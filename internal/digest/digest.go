// Package digest formats ranked match results into the markdown/HTML/PDF
// artifacts the alerting collaborator forwards to subscribers. Mail transport
// itself lives outside the engine.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialscout/trialscout/internal/trial"
	"github.com/trialscout/trialscout/internal/trialstore"
)

type Digest struct {
	ID             string
	SubscriptionID string
	GeneratedAt    time.Time
	Markdown       string
}

// Build renders one subscription's ranked results as a markdown digest.
func Build(sub trialstore.Subscription, results []trial.MatchResult, now time.Time) Digest {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Trial Matches\n\n")
	fmt.Fprintf(&b, "- Profile: %s\n", describeProfile(sub.Profile))
	fmt.Fprintf(&b, "- Generated: %s\n\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", trial.Disclaimer)

	if len(results) == 0 {
		fmt.Fprintf(&b, "No matching trials were found for this profile in the current snapshot.\n")
		return Digest{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			GeneratedAt:    now,
			Markdown:       b.String(),
		}
	}

	fmt.Fprintf(&b, "## Top Matches\n\n")
	for i, res := range results {
		t := res.Trial
		fmt.Fprintf(&b, "### %d. %s — %s\n\n", i+1, t.NCTID, t.Title)
		fmt.Fprintf(&b, "- Relevance score: %.2f\n", res.Score)
		fmt.Fprintf(&b, "- Status: %s\n", t.Status)
		if len(t.Phases) > 0 {
			fmt.Fprintf(&b, "- Phase: %s\n", joinPhases(t.Phases))
		}
		if len(t.Conditions) > 0 {
			fmt.Fprintf(&b, "- Conditions: %s\n", strings.Join(t.Conditions, "; "))
		}
		if res.DistanceMiles != nil {
			fmt.Fprintf(&b, "- Nearest site: %.0f miles\n", *res.DistanceMiles)
		}
		if t.LeadSponsor != "" {
			fmt.Fprintf(&b, "- Sponsor: %s\n", t.LeadSponsor)
		}
		fmt.Fprintf(&b, "- Score breakdown: %s\n", describeBreakdown(res.Breakdown))
		if res.AIRationale != nil {
			fmt.Fprintf(&b, "\n%s\n", sanitizeLine(*res.AIRationale))
		}
		b.WriteString("\n")
	}

	return Digest{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		GeneratedAt:    now,
		Markdown:       b.String(),
	}
}

func describeProfile(p trial.PatientProfile) string {
	parts := []string{p.CancerType}
	if p.Stage != "" {
		parts = append(parts, "stage "+p.Stage)
	}
	if p.Age != nil {
		parts = append(parts, fmt.Sprintf("age %d", *p.Age))
	}
	if len(p.Biomarkers) > 0 {
		parts = append(parts, strings.Join(p.Biomarkers, "/"))
	}
	return strings.Join(parts, ", ")
}

func describeBreakdown(breakdown map[string]float64) string {
	order := []string{
		trial.BreakdownCondition, trial.BreakdownBiomarker, trial.BreakdownAge,
		trial.BreakdownPhase, trial.BreakdownDistance, trial.BreakdownAdjustedScore,
	}
	parts := []string{}
	for _, key := range order {
		if v, ok := breakdown[key]; ok {
			parts = append(parts, fmt.Sprintf("%s %.2f", key, v))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func joinPhases(phases []trial.Phase) string {
	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ", ")
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}
