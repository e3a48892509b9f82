// Package trialstore persists normalized trials, their parsed-eligibility
// cache, and alert subscriptions in SQLite. The matching engine itself stays
// stateless; this store serves the ingest and digest binaries.
package trialstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/trialscout/trialscout/internal/eligibility"
	"github.com/trialscout/trialscout/internal/trial"
)

const schema = `
CREATE TABLE IF NOT EXISTS trials (
	nct_id           TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	official_title   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'UNKNOWN',
	phases           TEXT NOT NULL DEFAULT '[]',
	conditions       TEXT NOT NULL DEFAULT '[]',
	brief_summary    TEXT NOT NULL DEFAULT '',
	detailed_desc    TEXT NOT NULL DEFAULT '',
	interventions    TEXT NOT NULL DEFAULT '[]',
	eligibility      TEXT NOT NULL DEFAULT '{}',
	eligibility_hash TEXT NOT NULL DEFAULT '',
	parsed           TEXT NOT NULL DEFAULT '{}',
	locations        TEXT NOT NULL DEFAULT '[]',
	lead_sponsor     TEXT NOT NULL DEFAULT '',
	last_updated     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscription_id TEXT PRIMARY KEY,
	email           TEXT NOT NULL DEFAULT '',
	profile         TEXT NOT NULL,
	top_k           INTEGER NOT NULL DEFAULT 5,
	include_closed  INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);
`

type Store struct {
	db *sqlx.DB
}

// Subscription is one saved alert: a profile re-matched periodically against
// newly updated trials by the digest generator.
type Subscription struct {
	ID            string               `json:"subscription_id"`
	Email         string               `json:"email,omitempty"`
	Profile       trial.PatientProfile `json:"profile"`
	TopK          int                  `json:"top_k"`
	IncludeClosed bool                 `json:"include_closed"`
	CreatedAt     time.Time            `json:"created_at"`
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trial store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("trial store pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trial store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type trialRow struct {
	NCTID           string `db:"nct_id"`
	Title           string `db:"title"`
	OfficialTitle   string `db:"official_title"`
	Status          string `db:"status"`
	Phases          string `db:"phases"`
	Conditions      string `db:"conditions"`
	BriefSummary    string `db:"brief_summary"`
	DetailedDesc    string `db:"detailed_desc"`
	Interventions   string `db:"interventions"`
	Eligibility     string `db:"eligibility"`
	EligibilityHash string `db:"eligibility_hash"`
	Parsed          string `db:"parsed"`
	Locations       string `db:"locations"`
	LeadSponsor     string `db:"lead_sponsor"`
	LastUpdated     string `db:"last_updated"`
}

// UpsertTrial writes a normalized trial through to SQLite. Parsed eligibility
// is recomputed only when the eligibility text's hash changed since the last
// stored copy; otherwise the cached parse is kept.
func (s *Store) UpsertTrial(t trial.Trial) error {
	hash := eligibility.HashRaw(t.Eligibility.Raw)

	var existing trialRow
	err := s.db.Get(&existing, `SELECT eligibility_hash, parsed FROM trials WHERE nct_id = ?`, t.NCTID)
	switch {
	case err == nil && existing.EligibilityHash == hash:
		if uErr := json.Unmarshal([]byte(existing.Parsed), &t.Parsed); uErr != nil {
			eligibility.Enrich(&t)
		}
	case err == nil || errors.Is(err, sql.ErrNoRows):
		eligibility.Enrich(&t)
	default:
		return fmt.Errorf("upsert trial %s: %w", t.NCTID, err)
	}

	row := trialRow{
		NCTID:           t.NCTID,
		Title:           t.Title,
		OfficialTitle:   t.OfficialTitle,
		Status:          string(t.Status),
		Phases:          mustJSON(t.Phases),
		Conditions:      mustJSON(t.Conditions),
		BriefSummary:    t.BriefSummary,
		DetailedDesc:    t.DetailedDescription,
		Interventions:   mustJSON(t.Interventions),
		Eligibility:     mustJSON(t.Eligibility),
		EligibilityHash: hash,
		Parsed:          mustJSON(t.Parsed),
		Locations:       mustJSON(t.Locations),
		LeadSponsor:     t.LeadSponsor,
		LastUpdated:     formatTime(t.LastUpdated),
	}
	_, err = s.db.NamedExec(`
		INSERT INTO trials (nct_id, title, official_title, status, phases, conditions,
			brief_summary, detailed_desc, interventions, eligibility, eligibility_hash,
			parsed, locations, lead_sponsor, last_updated)
		VALUES (:nct_id, :title, :official_title, :status, :phases, :conditions,
			:brief_summary, :detailed_desc, :interventions, :eligibility, :eligibility_hash,
			:parsed, :locations, :lead_sponsor, :last_updated)
		ON CONFLICT(nct_id) DO UPDATE SET
			title = excluded.title,
			official_title = excluded.official_title,
			status = excluded.status,
			phases = excluded.phases,
			conditions = excluded.conditions,
			brief_summary = excluded.brief_summary,
			detailed_desc = excluded.detailed_desc,
			interventions = excluded.interventions,
			eligibility = excluded.eligibility,
			eligibility_hash = excluded.eligibility_hash,
			parsed = excluded.parsed,
			locations = excluded.locations,
			lead_sponsor = excluded.lead_sponsor,
			last_updated = excluded.last_updated`, row)
	if err != nil {
		return fmt.Errorf("upsert trial %s: %w", t.NCTID, err)
	}
	return nil
}

func (s *Store) GetTrial(nctID string) (trial.Trial, bool, error) {
	var row trialRow
	err := s.db.Get(&row, `SELECT * FROM trials WHERE nct_id = ?`, nctID)
	if errors.Is(err, sql.ErrNoRows) {
		return trial.Trial{}, false, nil
	}
	if err != nil {
		return trial.Trial{}, false, fmt.Errorf("get trial %s: %w", nctID, err)
	}
	t, err := rowToTrial(row)
	if err != nil {
		return trial.Trial{}, false, err
	}
	return t, true, nil
}

func (s *Store) ListTrials() ([]trial.Trial, error) {
	var rows []trialRow
	if err := s.db.Select(&rows, `SELECT * FROM trials ORDER BY nct_id`); err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	out := make([]trial.Trial, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTrial(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CountTrials() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM trials`); err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return n, nil
}

func (s *Store) AddSubscription(sub Subscription) (Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.TopK <= 0 {
		sub.TopK = 5
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (subscription_id, email, profile, top_k, include_closed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Email, mustJSON(sub.Profile), sub.TopK, boolToInt(sub.IncludeClosed), formatTime(sub.CreatedAt))
	if err != nil {
		return Subscription{}, fmt.Errorf("add subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions() ([]Subscription, error) {
	type subRow struct {
		ID            string `db:"subscription_id"`
		Email         string `db:"email"`
		Profile       string `db:"profile"`
		TopK          int    `db:"top_k"`
		IncludeClosed int    `db:"include_closed"`
		CreatedAt     string `db:"created_at"`
	}
	var rows []subRow
	if err := s.db.Select(&rows, `SELECT * FROM subscriptions ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		sub := Subscription{
			ID:            row.ID,
			Email:         row.Email,
			TopK:          row.TopK,
			IncludeClosed: row.IncludeClosed != 0,
			CreatedAt:     parseTime(row.CreatedAt),
		}
		if err := json.Unmarshal([]byte(row.Profile), &sub.Profile); err != nil {
			return nil, fmt.Errorf("decode subscription %s profile: %w", row.ID, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

func rowToTrial(row trialRow) (trial.Trial, error) {
	t := trial.Trial{
		NCTID:               row.NCTID,
		Title:               row.Title,
		OfficialTitle:       row.OfficialTitle,
		Status:              trial.Status(row.Status),
		BriefSummary:        row.BriefSummary,
		DetailedDescription: row.DetailedDesc,
		LeadSponsor:         row.LeadSponsor,
		LastUpdated:         parseTime(row.LastUpdated),
	}
	fields := []struct {
		raw string
		dst any
	}{
		{row.Phases, &t.Phases},
		{row.Conditions, &t.Conditions},
		{row.Interventions, &t.Interventions},
		{row.Eligibility, &t.Eligibility},
		{row.Parsed, &t.Parsed},
		{row.Locations, &t.Locations},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return trial.Trial{}, fmt.Errorf("decode trial %s: %w", row.NCTID, err)
		}
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
