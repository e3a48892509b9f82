package trial

import "time"

const Disclaimer = "This is an advisory ranked shortlist with supporting evidence, " +
	"not a determination of enrollment eligibility. Trial eligibility is decided " +
	"by the study team; consult the treating physician before acting on results."

// Status is the recruitment status of a study, normalized from the upstream
// registry's overallStatus values.
type Status string

const (
	StatusRecruiting          Status = "RECRUITING"
	StatusNotYetRecruiting    Status = "NOT_YET_RECRUITING"
	StatusActiveNotRecruiting Status = "ACTIVE_NOT_RECRUITING"
	StatusCompleted           Status = "COMPLETED"
	StatusTerminated          Status = "TERMINATED"
	StatusWithdrawn           Status = "WITHDRAWN"
	StatusUnknown             Status = "UNKNOWN"
)

type Phase string

const (
	PhaseEarly1 Phase = "EARLY_PHASE1"
	Phase1      Phase = "PHASE1"
	Phase2      Phase = "PHASE2"
	Phase3      Phase = "PHASE3"
	Phase4      Phase = "PHASE4"
)

type Sex string

const (
	SexAll    Sex = "ALL"
	SexMale   Sex = "MALE"
	SexFemale Sex = "FEMALE"
)

// PriorTreatmentRule is the tri-state prior-treatment requirement mined from
// eligibility text.
type PriorTreatmentRule string

const (
	PriorTreatmentRequired    PriorTreatmentRule = "REQUIRED"
	PriorTreatmentExcluded    PriorTreatmentRule = "EXCLUDED"
	PriorTreatmentUnspecified PriorTreatmentRule = "UNSPECIFIED"
)

type Intervention struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Location struct {
	Facility string    `json:"facility,omitempty"`
	City     string    `json:"city,omitempty"`
	State    string    `json:"state,omitempty"`
	Country  string    `json:"country,omitempty"`
	Status   string    `json:"status,omitempty"`
	Contact  *Contact  `json:"contact,omitempty"`
	Geo      *GeoPoint `json:"geo,omitempty"`
}

// Eligibility carries the raw criteria block plus the structured fields the
// upstream registry publishes alongside it. Structured values take precedence
// over anything text-mined from Raw.
type Eligibility struct {
	Raw               string `json:"raw"`
	MinimumAge        string `json:"minimum_age,omitempty"`
	MaximumAge        string `json:"maximum_age,omitempty"`
	Sex               string `json:"sex,omitempty"`
	HealthyVolunteers bool   `json:"healthy_volunteers,omitempty"`
}

// ParsedEligibility is derived from Eligibility and recomputed whenever the
// raw criteria text changes. Absent age bounds mean unbounded, not zero.
type ParsedEligibility struct {
	MinAge *int `json:"min_age,omitempty"`
	MaxAge *int `json:"max_age,omitempty"`
	Sex    Sex  `json:"sex"`
	// Biomarkers is a sorted set of normalized vocabulary tokens detected by
	// substring scan. Detection carries no affirmation/negation context: a
	// trial excluding HER2-positive patients and one requiring HER2 are both
	// tagged "HER2". Scoring must not treat detected as eligible.
	Biomarkers        []string           `json:"biomarkers,omitempty"`
	PriorTreatment    PriorTreatmentRule `json:"prior_treatment"`
	HealthyVolunteers bool               `json:"healthy_volunteers"`
}

// Trial is the canonical normalized representation of one upstream study
// record. Optional upstream fields degrade to zero values, never to faults.
type Trial struct {
	NCTID               string            `json:"nct_id"`
	Title               string            `json:"title"`
	OfficialTitle       string            `json:"official_title,omitempty"`
	Status              Status            `json:"status"`
	Phases              []Phase           `json:"phases,omitempty"`
	Conditions          []string          `json:"conditions,omitempty"`
	BriefSummary        string            `json:"brief_summary,omitempty"`
	DetailedDescription string            `json:"detailed_description,omitempty"`
	Interventions       []Intervention    `json:"interventions,omitempty"`
	Eligibility         Eligibility       `json:"eligibility"`
	Parsed              ParsedEligibility `json:"parsed_eligibility"`
	Locations           []Location        `json:"locations,omitempty"`
	LeadSponsor         string            `json:"lead_sponsor,omitempty"`
	LastUpdated         time.Time         `json:"last_updated,omitempty"`
}

// PatientProfile is the caller-supplied matching query. It is never persisted
// by the engine itself. CancerType is the only required field.
type PatientProfile struct {
	CancerType       string    `json:"cancer_type"`
	Stage            string    `json:"stage,omitempty"`
	Biomarkers       []string  `json:"biomarkers,omitempty"`
	Age              *int      `json:"age,omitempty"`
	Sex              Sex       `json:"sex,omitempty"`
	PriorTreatments  []string  `json:"prior_treatments,omitempty"`
	Location         *GeoPoint `json:"location,omitempty"`
	ZIP              string    `json:"zip,omitempty"`
	MaxDistanceMiles float64   `json:"max_distance_miles,omitempty"`
	PreferredPhases  []Phase   `json:"preferred_phases,omitempty"`
}

// Breakdown keys present in MatchResult.Breakdown. AdjustedScoreKey is only
// written by the augmenter and never feeds back into ordering.
const (
	BreakdownCondition     = "condition"
	BreakdownBiomarker     = "biomarker"
	BreakdownAge           = "age"
	BreakdownPhase         = "phase"
	BreakdownDistance      = "distance"
	BreakdownAdjustedScore = "ai_adjusted_score"
)

// MatchResult is one trial's relevance score for a given profile. The engine
// never mutates the referenced Trial.
type MatchResult struct {
	Trial         *Trial             `json:"trial"`
	Score         float64            `json:"score"`
	Breakdown     map[string]float64 `json:"score_breakdown"`
	AIRationale   *string            `json:"ai_rationale,omitempty"`
	DistanceMiles *float64           `json:"distance_miles,omitempty"`
}
