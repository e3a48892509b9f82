package trial

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nctIDRe = regexp.MustCompile(`^NCT\d{8}$`)

// RecordError marks a single upstream record that failed normalization. The
// record is dropped; the batch continues.
type RecordError struct {
	NCTID string
	Err   error
}

func (e *RecordError) Error() string {
	if e.NCTID == "" {
		return fmt.Sprintf("invalid record: %v", e.Err)
	}
	return fmt.Sprintf("invalid record %s: %v", e.NCTID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Normalize flattens one raw upstream study record into the canonical Trial.
// It never panics on malformed input: missing or odd-shaped fields degrade to
// zero values. The only rejection is an absent or malformed nctId, which
// returns a *RecordError rather than fabricating an identifier.
func Normalize(raw map[string]any) (Trial, error) {
	proto := mapAt(raw, "protocolSection")
	if len(proto) == 0 {
		// Some callers hand us the protocol section directly.
		proto = raw
	}

	ident := mapAt(proto, "identificationModule")
	nctID := strings.ToUpper(collapse(str(ident["nctId"])))
	if !nctIDRe.MatchString(nctID) {
		return Trial{}, &RecordError{NCTID: nctID, Err: fmt.Errorf("missing or malformed nctId %q", nctID)}
	}

	statusMod := mapAt(proto, "statusModule")
	descMod := mapAt(proto, "descriptionModule")
	eligMod := mapAt(proto, "eligibilityModule")

	t := Trial{
		NCTID:               nctID,
		Title:               collapse(str(ident["briefTitle"])),
		OfficialTitle:       collapse(str(ident["officialTitle"])),
		Status:              normalizeStatus(str(statusMod["overallStatus"])),
		Phases:              normalizePhases(mapAt(proto, "designModule")["phases"]),
		Conditions:          stringList(mapAt(proto, "conditionsModule")["conditions"]),
		BriefSummary:        collapse(str(descMod["briefSummary"])),
		DetailedDescription: collapse(str(descMod["detailedDescription"])),
		Interventions:       normalizeInterventions(mapAt(proto, "armsInterventionsModule")["interventions"]),
		Eligibility: Eligibility{
			Raw:               strings.TrimSpace(str(eligMod["eligibilityCriteria"])),
			MinimumAge:        collapse(str(eligMod["minimumAge"])),
			MaximumAge:        collapse(str(eligMod["maximumAge"])),
			Sex:               collapse(str(eligMod["sex"])),
			HealthyVolunteers: boolVal(eligMod["healthyVolunteers"]),
		},
		Locations:   normalizeLocations(mapAt(proto, "contactsLocationsModule")["locations"]),
		LeadSponsor: collapse(strFromPath(proto, "sponsorCollaboratorsModule", "leadSponsor", "name")),
		LastUpdated: parseDate(strFromPath(proto, "statusModule", "lastUpdatePostDateStruct", "date")),
	}
	if t.Title == "" {
		t.Title = t.OfficialTitle
	}
	return t, nil
}

// NormalizeBatch normalizes every record it can and reports how many were
// dropped. Per-record failures are non-fatal to the batch.
func NormalizeBatch(raws []map[string]any) (trials []Trial, dropped int, errs []error) {
	trials = make([]Trial, 0, len(raws))
	for _, raw := range raws {
		t, err := Normalize(raw)
		if err != nil {
			dropped++
			errs = append(errs, err)
			continue
		}
		trials = append(trials, t)
	}
	return trials, dropped, errs
}

func normalizeStatus(s string) Status {
	switch strings.ToUpper(strings.ReplaceAll(collapse(s), " ", "_")) {
	case "RECRUITING":
		return StatusRecruiting
	case "NOT_YET_RECRUITING":
		return StatusNotYetRecruiting
	case "ACTIVE_NOT_RECRUITING", "ACTIVE,_NOT_RECRUITING":
		return StatusActiveNotRecruiting
	case "COMPLETED":
		return StatusCompleted
	case "TERMINATED":
		return StatusTerminated
	case "WITHDRAWN":
		return StatusWithdrawn
	default:
		return StatusUnknown
	}
}

// normalizePhases accepts the upstream's list-or-string ambiguity and coerces
// to the canonical phase set. "NA" and unknown markers are dropped: an empty
// set means observational.
func normalizePhases(v any) []Phase {
	var rawPhases []string
	switch pv := v.(type) {
	case []any:
		for _, item := range pv {
			rawPhases = append(rawPhases, str(item))
		}
	case []string:
		rawPhases = pv
	case string:
		rawPhases = []string{pv}
	}

	seen := map[Phase]struct{}{}
	out := []Phase{}
	for _, rp := range rawPhases {
		p := normalizePhase(rp)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizePhase(s string) Phase {
	c := strings.ToUpper(strings.ReplaceAll(collapse(s), " ", "_"))
	c = strings.ReplaceAll(c, "PHASE_", "PHASE")
	switch c {
	case "EARLY_PHASE1", "EARLY_PHASE_1":
		return PhaseEarly1
	case "PHASE1":
		return Phase1
	case "PHASE2":
		return Phase2
	case "PHASE3":
		return Phase3
	case "PHASE4":
		return Phase4
	default:
		return ""
	}
}

func normalizeInterventions(v any) []Intervention {
	out := []Intervention{}
	for _, item := range anyList(v) {
		m, _ := item.(map[string]any)
		iv := Intervention{
			Type:        collapse(str(m["type"])),
			Name:        collapse(str(m["name"])),
			Description: collapse(str(m["description"])),
		}
		if iv.Name == "" {
			continue
		}
		out = append(out, iv)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeLocations(v any) []Location {
	out := []Location{}
	for _, item := range anyList(v) {
		m, _ := item.(map[string]any)
		if m == nil {
			continue
		}
		loc := Location{
			Facility: collapse(str(m["facility"])),
			City:     collapse(str(m["city"])),
			State:    collapse(str(m["state"])),
			Country:  collapse(str(m["country"])),
			Status:   collapse(str(m["status"])),
		}
		if c := normalizeContact(m["contacts"]); c != nil {
			loc.Contact = c
		}
		if gp, ok := mapAt(m, "geoPoint")["lat"]; ok {
			lat, latOK := floatVal(gp)
			lon, lonOK := floatVal(mapAt(m, "geoPoint")["lon"])
			if latOK && lonOK {
				loc.Geo = &GeoPoint{Lat: lat, Lon: lon}
			}
		}
		if loc.Facility == "" && loc.City == "" && loc.Country == "" {
			continue
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeContact(v any) *Contact {
	items := anyList(v)
	if len(items) == 0 {
		return nil
	}
	m, _ := items[0].(map[string]any)
	if m == nil {
		return nil
	}
	c := Contact{
		Name:  collapse(str(m["name"])),
		Phone: collapse(str(m["phone"])),
		Email: collapse(str(m["email"])),
	}
	if c.Name == "" && c.Phone == "" && c.Email == "" {
		return nil
	}
	return &c
}

func parseDate(s string) time.Time {
	s = collapse(s)
	for _, layout := range []string{"2006-01-02", "2006-01", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// collapse trims and collapses internal whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// anyList coerces the upstream's singleton-vs-array ambiguity into a list.
func anyList(v any) []any {
	switch av := v.(type) {
	case []any:
		return av
	case map[string]any:
		return []any{av}
	case nil:
		return nil
	default:
		return nil
	}
}

func stringList(v any) []string {
	items := anyList(v)
	if s, ok := v.(string); ok && collapse(s) != "" {
		return []string{collapse(s)}
	}
	out := []string{}
	for _, item := range items {
		s := collapse(str(item))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mapAt(raw map[string]any, key string) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	m, ok := raw[key].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolVal(v any) bool {
	b, _ := v.(bool)
	return b
}

func floatVal(v any) (float64, bool) {
	switch fv := v.(type) {
	case float64:
		return fv, true
	case int:
		return float64(fv), true
	default:
		return 0, false
	}
}

func strFromPath(raw map[string]any, keys ...string) string {
	cur := any(raw)
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}
