// Package eligibility mines structured signals out of free-text trial
// eligibility criteria. Parsing is a pure function of its input: the same
// text always yields the same output, so fixtures stay reproducible.
package eligibility

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/trialscout/trialscout/internal/trial"
)

// Vocabulary is the fixed set of biomarker tokens detected by substring scan.
// Detection is context-free: no negation awareness. A criteria block that
// excludes HER2-positive patients still tags HER2. Downstream scoring treats
// a detected token as "mentioned", never as "eligible".
var Vocabulary = []string{
	"ALK", "BRAF", "BRCA1", "BRCA2", "EGFR", "HER2", "KRAS", "MSI", "PDL1",
}

var (
	minAgeRe   = regexp.MustCompile(`(?i)minimum\s+age[:\s]+(\d{1,3})\s+years?`)
	maxAgeRe   = regexp.MustCompile(`(?i)maximum\s+age[:\s]+(\d{1,3})\s+years?`)
	sexRe      = regexp.MustCompile(`(?i)\bsex[:\s]+(all|male|female)\b`)
	ageValueRe = regexp.MustCompile(`(\d{1,3})\s*(?i:years?)`)
)

var requirementCues = []string{
	"must have received",
	"progressed on",
	"prior therapy required",
	"previously treated with",
	"refractory to",
}

var exclusionCues = []string{
	"no prior",
	"treatment-naive",
	"treatment naive",
	"must not have received",
	"without prior",
}

var treatmentKeywords = []string{
	"chemotherapy", "radiotherapy", "radiation", "immunotherapy",
	"therapy", "treatment", "surgery", "transplant",
}

// Parse extracts structured predicates from a raw criteria block. It never
// fails: unparseable segments are skipped and the field stays at its
// unspecified default.
func Parse(raw string) trial.ParsedEligibility {
	return parseText(raw)
}

// ParseWithHints applies the upstream's structured eligibility fields on top
// of text mining. Structured values always take precedence over text-mined
// ones when both exist.
func ParseWithHints(e trial.Eligibility) trial.ParsedEligibility {
	p := parseText(e.Raw)
	if age, ok := parseAgeString(e.MinimumAge); ok {
		p.MinAge = &age
	}
	if age, ok := parseAgeString(e.MaximumAge); ok {
		p.MaxAge = &age
	}
	if sex, ok := parseSexString(e.Sex); ok {
		p.Sex = sex
	}
	if e.HealthyVolunteers {
		p.HealthyVolunteers = true
	}
	return p
}

// Enrich recomputes t.Parsed from its eligibility block. Consumers call this
// after normalization and again whenever the raw text changes.
func Enrich(t *trial.Trial) {
	t.Parsed = ParseWithHints(t.Eligibility)
	if len(t.Parsed.Biomarkers) == 0 {
		// Fallback scan over the serialized trial text: biomarkers often
		// appear only in the title or summary.
		t.Parsed.Biomarkers = DetectBiomarkers(strings.Join([]string{
			t.Title, t.OfficialTitle, t.BriefSummary, t.DetailedDescription,
			strings.Join(t.Conditions, " "),
		}, " "))
	}
}

func parseText(raw string) trial.ParsedEligibility {
	p := trial.ParsedEligibility{
		Sex:            trial.SexAll,
		PriorTreatment: trial.PriorTreatmentUnspecified,
	}
	if strings.TrimSpace(raw) == "" {
		return p
	}

	if m := minAgeRe.FindStringSubmatch(raw); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil {
			p.MinAge = &age
		}
	}
	if m := maxAgeRe.FindStringSubmatch(raw); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil {
			p.MaxAge = &age
		}
	}
	if m := sexRe.FindStringSubmatch(raw); m != nil {
		if sex, ok := parseSexString(m[1]); ok {
			p.Sex = sex
		}
	}

	p.Biomarkers = DetectBiomarkers(raw)
	p.PriorTreatment = detectPriorTreatment(raw)
	if strings.Contains(strings.ToLower(raw), "healthy volunteers") &&
		!strings.Contains(strings.ToLower(raw), "no healthy volunteers") {
		p.HealthyVolunteers = true
	}
	return p
}

// DetectBiomarkers runs the case-insensitive vocabulary scan. Output is
// sorted so identical input yields byte-identical results.
func DetectBiomarkers(text string) []string {
	if text == "" {
		return nil
	}
	upper := strings.ToUpper(text)
	// PD-L1 is written with and without the hyphen upstream.
	upper = strings.ReplaceAll(upper, "PD-L1", "PDL1")
	found := []string{}
	for _, token := range Vocabulary {
		if strings.Contains(upper, token) {
			found = append(found, token)
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Strings(found)
	return found
}

// NormalizeBiomarker maps a caller-supplied marker name onto the vocabulary
// token form used in ParsedEligibility.
func NormalizeBiomarker(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	c = strings.ReplaceAll(c, "-", "")
	c = strings.ReplaceAll(c, " ", "")
	return c
}

func detectPriorTreatment(raw string) trial.PriorTreatmentRule {
	lower := strings.ToLower(raw)
	if !mentionsTreatment(lower) {
		return trial.PriorTreatmentUnspecified
	}
	// Exclusion cues win when both patterns appear: "no prior" is the more
	// specific phrasing in registry criteria.
	for _, cue := range exclusionCues {
		if strings.Contains(lower, cue) {
			return trial.PriorTreatmentExcluded
		}
	}
	for _, cue := range requirementCues {
		if strings.Contains(lower, cue) {
			return trial.PriorTreatmentRequired
		}
	}
	return trial.PriorTreatmentUnspecified
}

func mentionsTreatment(lower string) bool {
	for _, kw := range treatmentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// parseAgeString reads the registry's structured age form, e.g. "18 Years".
func parseAgeString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	m := ageValueRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	age, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return age, true
}

func parseSexString(s string) (trial.Sex, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALL":
		return trial.SexAll, true
	case "MALE":
		return trial.SexMale, true
	case "FEMALE":
		return trial.SexFemale, true
	default:
		return "", false
	}
}
