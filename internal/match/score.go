package match

import (
	"math"
	"strings"

	"github.com/trialscout/trialscout/internal/eligibility"
	"github.com/trialscout/trialscout/internal/trial"
)

// Sub-score weights. The final score is the weighted mean over the sub-scores
// that are active for this profile: a dimension the patient didn't specify is
// excluded from the denominator, never counted against the trial.
const (
	weightCondition = 0.35
	weightBiomarker = 0.25
	weightAge       = 0.15
	weightPhase     = 0.10
	weightDistance  = 0.15
)

const earthRadiusMiles = 3958.8

func scoreTrial(profile trial.PatientProfile, t *trial.Trial, origin *trial.GeoPoint) trial.MatchResult {
	res := trial.MatchResult{
		Trial:     t,
		Breakdown: map[string]float64{},
	}

	var weightedSum, weightTotal float64
	add := func(name string, score, weight float64) {
		res.Breakdown[name] = score
		weightedSum += score * weight
		weightTotal += weight
	}

	add(trial.BreakdownCondition, conditionScore(profile.CancerType, t.Conditions), weightCondition)

	if len(profile.Biomarkers) > 0 {
		add(trial.BreakdownBiomarker, biomarkerScore(profile.Biomarkers, t.Parsed.Biomarkers), weightBiomarker)
	}

	add(trial.BreakdownPhase, phaseScore(profile.PreferredPhases, t.Phases), weightPhase)

	if dist, ok := nearestLocationMiles(origin, t.Locations); ok {
		d := dist
		res.DistanceMiles = &d
		if profile.MaxDistanceMiles > 0 {
			add(trial.BreakdownDistance, distanceScore(dist, profile.MaxDistanceMiles), weightDistance)
		}
	}

	// Age is a hard gate, not a soft contributor: falling outside the
	// trial's bounds disqualifies absolutely.
	gated := false
	if profile.Age != nil {
		if ageEligible(*profile.Age, t.Parsed) {
			add(trial.BreakdownAge, 1.0, weightAge)
		} else {
			res.Breakdown[trial.BreakdownAge] = 0
			gated = true
		}
	}

	if gated {
		res.Score = 0
		return res
	}
	if weightTotal > 0 {
		res.Score = weightedSum / weightTotal
	}
	return res
}

// conditionScore is the normalized token overlap between the patient's cancer
// type and the trial's condition strings. An exact case-insensitive substring
// match scores 1.0; partial token overlap scores proportionally.
func conditionScore(cancerType string, conditions []string) float64 {
	ct := strings.ToLower(strings.TrimSpace(cancerType))
	if ct == "" || len(conditions) == 0 {
		return 0
	}
	ctTokens := tokens(ct)

	best := 0.0
	for _, cond := range conditions {
		c := strings.ToLower(strings.TrimSpace(cond))
		if c == "" {
			continue
		}
		if strings.Contains(c, ct) || strings.Contains(ct, c) {
			return 1.0
		}
		if len(ctTokens) == 0 {
			continue
		}
		overlap := 0
		condTokens := tokenSet(c)
		for _, tok := range ctTokens {
			if _, ok := condTokens[tok]; ok {
				overlap++
			}
		}
		if s := float64(overlap) / float64(len(ctTokens)); s > best {
			best = s
		}
	}
	return best
}

// biomarkerScore is the fraction of the patient's biomarkers mentioned by the
// trial. "Mentioned" is all the extractor can promise: detection carries no
// affirmation/negation context, so this is relevance, not eligibility.
func biomarkerScore(patientMarkers, trialMarkers []string) float64 {
	if len(patientMarkers) == 0 {
		return 0
	}
	trialSet := map[string]struct{}{}
	for _, m := range trialMarkers {
		trialSet[eligibility.NormalizeBiomarker(m)] = struct{}{}
	}
	hits := 0
	for _, m := range patientMarkers {
		if _, ok := trialSet[eligibility.NormalizeBiomarker(m)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(patientMarkers))
}

func ageEligible(age int, parsed trial.ParsedEligibility) bool {
	if parsed.MinAge != nil && age < *parsed.MinAge {
		return false
	}
	if parsed.MaxAge != nil && age > *parsed.MaxAge {
		return false
	}
	return true
}

func phaseScore(preferred []trial.Phase, phases []trial.Phase) float64 {
	if len(preferred) == 0 {
		return 0.5
	}
	for _, want := range preferred {
		for _, have := range phases {
			if want == have {
				return 1.0
			}
		}
	}
	return 0
}

// distanceScore falls off inverse-linearly from 1.0 at the origin to 0.0 at
// the patient's maximum travel distance.
func distanceScore(miles, maxMiles float64) float64 {
	if miles <= 0 {
		return 1.0
	}
	if miles >= maxMiles {
		return 0
	}
	return 1.0 - miles/maxMiles
}

func nearestLocationMiles(origin *trial.GeoPoint, locations []trial.Location) (float64, bool) {
	if origin == nil {
		return 0, false
	}
	best := math.Inf(1)
	found := false
	for _, loc := range locations {
		if loc.Geo == nil {
			continue
		}
		d := haversineMiles(*origin, *loc.Geo)
		if d < best {
			best = d
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

func haversineMiles(a, b trial.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range tokens(s) {
		set[tok] = struct{}{}
	}
	return set
}
