package trial

import (
	"errors"
	"testing"
	"time"
)

func sampleRecord() map[string]any {
	return map[string]any{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{
				"nctId":      "NCT01234567",
				"briefTitle": "A  Study of   Something",
			},
			"statusModule": map[string]any{
				"overallStatus": "Recruiting",
				"lastUpdatePostDateStruct": map[string]any{
					"date": "2026-03-15",
				},
			},
			"designModule": map[string]any{
				"phases": []any{"PHASE2", "PHASE3"},
			},
			"conditionsModule": map[string]any{
				"conditions": []any{"Breast Cancer", "HER2-Positive Breast Cancer"},
			},
			"descriptionModule": map[string]any{
				"briefSummary": "Evaluates a targeted agent.",
			},
			"eligibilityModule": map[string]any{
				"eligibilityCriteria": "Inclusion: Minimum Age: 18 Years",
				"minimumAge":          "18 Years",
				"sex":                 "All",
			},
			"contactsLocationsModule": map[string]any{
				"locations": []any{
					map[string]any{
						"facility": "General Hospital",
						"city":     "Boston",
						"country":  "United States",
						"geoPoint": map[string]any{"lat": 42.36, "lon": -71.06},
					},
				},
			},
			"sponsorCollaboratorsModule": map[string]any{
				"leadSponsor": map[string]any{"name": "Acme Oncology"},
			},
		},
	}
}

func TestNormalizeHappyPath(t *testing.T) {
	got, err := Normalize(sampleRecord())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.NCTID != "NCT01234567" {
		t.Fatalf("nct id: %q", got.NCTID)
	}
	if got.Title != "A Study of Something" {
		t.Fatalf("whitespace not collapsed: %q", got.Title)
	}
	if got.Status != StatusRecruiting {
		t.Fatalf("status: %q", got.Status)
	}
	if len(got.Phases) != 2 || got.Phases[0] != Phase2 || got.Phases[1] != Phase3 {
		t.Fatalf("phases: %v", got.Phases)
	}
	if len(got.Conditions) != 2 {
		t.Fatalf("conditions: %v", got.Conditions)
	}
	if got.Eligibility.MinimumAge != "18 Years" {
		t.Fatalf("structured min age lost: %q", got.Eligibility.MinimumAge)
	}
	if len(got.Locations) != 1 || got.Locations[0].Geo == nil {
		t.Fatalf("location geo: %+v", got.Locations)
	}
	if got.LeadSponsor != "Acme Oncology" {
		t.Fatalf("sponsor: %q", got.LeadSponsor)
	}
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.LastUpdated.Equal(want) {
		t.Fatalf("last updated: %v", got.LastUpdated)
	}
}

func TestNormalizeRejectsMalformedNCTID(t *testing.T) {
	for _, id := range []string{"", "NCT123", "12345678", "NCT1234567X"} {
		raw := sampleRecord()
		raw["protocolSection"].(map[string]any)["identificationModule"].(map[string]any)["nctId"] = id
		_, err := Normalize(raw)
		if err == nil {
			t.Fatalf("nctId %q should be rejected", id)
		}
		var re *RecordError
		if !errors.As(err, &re) {
			t.Fatalf("nctId %q: expected *RecordError, got %T", id, err)
		}
	}
}

func TestNormalizeBareProtocolSection(t *testing.T) {
	section, ok := sampleRecord()["protocolSection"].(map[string]any)
	if !ok {
		t.Fatal("fixture shape changed")
	}
	got, err := Normalize(section)
	if err != nil {
		t.Fatalf("bare protocol section should normalize: %v", err)
	}
	if got.NCTID != "NCT01234567" {
		t.Fatalf("nct id: %q", got.NCTID)
	}
	if got.Status != StatusRecruiting || len(got.Conditions) != 2 {
		t.Fatalf("modules not read from bare section: %+v", got)
	}
}

func TestNormalizeLowercaseNCTIDIsCanonicalized(t *testing.T) {
	raw := sampleRecord()
	raw["protocolSection"].(map[string]any)["identificationModule"].(map[string]any)["nctId"] = "nct01234567"
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.NCTID != "NCT01234567" {
		t.Fatalf("expected uppercased id, got %q", got.NCTID)
	}
}

func TestNormalizeToleratesMissingModules(t *testing.T) {
	raw := map[string]any{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{"nctId": "NCT00000001"},
		},
	}
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("sparse record should normalize: %v", err)
	}
	if got.Status != StatusUnknown {
		t.Fatalf("missing status should be UNKNOWN, got %q", got.Status)
	}
	if got.Phases != nil || got.Conditions != nil || got.Locations != nil {
		t.Fatalf("missing collections should stay nil: %+v", got)
	}
}

func TestNormalizeSingletonCoercion(t *testing.T) {
	raw := sampleRecord()
	proto := raw["protocolSection"].(map[string]any)
	// Upstream sometimes emits a lone object or string where a list belongs.
	proto["conditionsModule"].(map[string]any)["conditions"] = "Lung Cancer"
	proto["contactsLocationsModule"].(map[string]any)["locations"] = map[string]any{
		"facility": "Solo Clinic", "city": "Denver", "country": "United States",
	}
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got.Conditions) != 1 || got.Conditions[0] != "Lung Cancer" {
		t.Fatalf("singleton condition: %v", got.Conditions)
	}
	if len(got.Locations) != 1 || got.Locations[0].Facility != "Solo Clinic" {
		t.Fatalf("singleton location: %+v", got.Locations)
	}
}

func TestNormalizePhaseDeduplicationAndNA(t *testing.T) {
	raw := sampleRecord()
	raw["protocolSection"].(map[string]any)["designModule"].(map[string]any)["phases"] = []any{"NA", "PHASE1", "Phase 1", "EARLY_PHASE1"}
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got.Phases) != 2 || got.Phases[0] != Phase1 || got.Phases[1] != PhaseEarly1 {
		t.Fatalf("phases: %v", got.Phases)
	}
}

func TestNormalizeBatchDropsOnlyBadRecords(t *testing.T) {
	good := sampleRecord()
	bad := map[string]any{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{"nctId": "bogus"},
		},
	}
	trials, dropped, errs := NormalizeBatch([]map[string]any{good, bad, sampleRecord()})
	if len(trials) != 2 {
		t.Fatalf("expected 2 trials, got %d", len(trials))
	}
	if dropped != 1 || len(errs) != 1 {
		t.Fatalf("expected 1 drop, got dropped=%d errs=%d", dropped, len(errs))
	}
}

func TestRecordErrorMessageCarriesID(t *testing.T) {
	err := &RecordError{NCTID: "NCT999", Err: errors.New("boom")}
	if got := err.Error(); got != "invalid record NCT999: boom" {
		t.Fatalf("unexpected message: %q", got)
	}
}
