// Package match computes deterministic relevance scores between a patient
// profile and a set of normalized trials. Scoring is pure: all state for a
// run is passed in and returned, and identical inputs produce an identical
// ordering.
package match

import (
	"errors"
	"sort"
	"strings"

	"github.com/trialscout/trialscout/internal/trial"
)

// ErrMissingCancerType is the single hard precondition violation: a profile
// without a cancer type is rejected before any scoring work begins.
var ErrMissingCancerType = errors.New("patient profile: cancer_type is required")

// ZIPResolver maps a postal code to coordinates. When no resolver is
// configured, a ZIP-only profile location simply excludes the distance
// sub-score from renormalization, same as an absent location.
type ZIPResolver interface {
	Resolve(zip string) (trial.GeoPoint, bool)
}

type Options struct {
	// IncludeClosed opts in to scoring Withdrawn and Terminated trials,
	// which are otherwise filtered before scoring.
	IncludeClosed bool
	ZIPResolver   ZIPResolver
}

// Match scores every candidate trial against the profile and returns results
// ranked best-first. Results reference the input trials; neither the trials
// nor the profile are mutated.
func Match(profile trial.PatientProfile, trials []trial.Trial, opts Options) ([]trial.MatchResult, error) {
	if strings.TrimSpace(profile.CancerType) == "" {
		return nil, ErrMissingCancerType
	}

	origin := resolveOrigin(profile, opts.ZIPResolver)
	results := make([]trial.MatchResult, 0, len(trials))
	for i := range trials {
		t := &trials[i]
		if !opts.IncludeClosed && (t.Status == trial.StatusWithdrawn || t.Status == trial.StatusTerminated) {
			continue
		}
		results = append(results, scoreTrial(profile, t, origin))
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ca, cb := a.Breakdown[trial.BreakdownCondition], b.Breakdown[trial.BreakdownCondition]; ca != cb {
			return ca > cb
		}
		if !a.Trial.LastUpdated.Equal(b.Trial.LastUpdated) {
			return a.Trial.LastUpdated.After(b.Trial.LastUpdated)
		}
		return a.Trial.NCTID < b.Trial.NCTID
	})
	return results, nil
}

func resolveOrigin(profile trial.PatientProfile, resolver ZIPResolver) *trial.GeoPoint {
	if profile.Location != nil {
		return profile.Location
	}
	if profile.ZIP != "" && resolver != nil {
		if gp, ok := resolver.Resolve(profile.ZIP); ok {
			return &gp
		}
	}
	return nil
}
