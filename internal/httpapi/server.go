// Package httpapi exposes the matching engine over HTTP for the page-serving
// and alerting collaborators.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trialscout/trialscout/internal/augment"
	"github.com/trialscout/trialscout/internal/eligibility"
	"github.com/trialscout/trialscout/internal/match"
	"github.com/trialscout/trialscout/internal/trial"
	"github.com/trialscout/trialscout/internal/trialstore"
)

// TrialSource is the subset of the trial store the API reads. The engine
// itself persists nothing.
type TrialSource interface {
	GetTrial(nctID string) (trial.Trial, bool, error)
	ListTrials() ([]trial.Trial, error)
}

type Server struct {
	source    TrialSource
	augmenter *augment.Augmenter
	cache     *eligibility.Cache
	tracer    trace.Tracer
}

var _ TrialSource = (*trialstore.Store)(nil)

// NewServer builds the API handler. source and augmenter may be nil: without
// a source, callers must supply trials inline; without an augmenter, results
// come back with deterministic scores only.
func NewServer(source TrialSource, augmenter *augment.Augmenter) http.Handler {
	s := &Server{
		source:    source,
		augmenter: augmenter,
		cache:     eligibility.NewCache(),
		tracer:    otel.Tracer("trialscout/httpapi"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/match", s.handleMatch)
	mux.HandleFunc("/v1/trials/", s.handleGetTrial)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

type matchRequest struct {
	Profile       trial.PatientProfile `json:"profile"`
	Trials        []trial.Trial        `json:"trials,omitempty"`
	RawRecords    []map[string]any     `json:"raw_records,omitempty"`
	IncludeClosed bool                 `json:"include_closed,omitempty"`
	TopK          int                  `json:"top_k,omitempty"`
	Augment       bool                 `json:"augment,omitempty"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	ctx, span := s.tracer.Start(r.Context(), "httpapi.match")
	defer span.End()

	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var req matchRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request json")
		return
	}

	trials := req.Trials
	dropped := 0
	if len(req.RawRecords) > 0 {
		normalized, d, _ := trial.NormalizeBatch(req.RawRecords)
		trials = append(trials, normalized...)
		dropped = d
	}
	if len(trials) == 0 && s.source != nil {
		trials, err = s.source.ListTrials()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	for i := range trials {
		s.cache.Enrich(&trials[i])
	}
	span.SetAttributes(attribute.Int("trials.candidates", len(trials)))

	results, err := match.Match(req.Profile, trials, match.Options{IncludeClosed: req.IncludeClosed})
	if err != nil {
		if errors.Is(err, match.ErrMissingCancerType) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}

	if req.Augment && s.augmenter != nil {
		_, augSpan := s.tracer.Start(ctx, "httpapi.augment")
		results = s.augmenter.Augment(ctx, req.Profile, results)
		augSpan.End()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"run_id":          uuid.NewString(),
		"results":         results,
		"count":           len(results),
		"dropped_records": dropped,
		"disclaimer":      trial.Disclaimer,
	})
}

func (s *Server) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.source == nil {
		writeError(w, http.StatusNotFound, "no trial store configured")
		return
	}
	nctID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/trials/"), "/")
	if nctID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	t, ok, err := s.source.GetTrial(strings.ToUpper(nctID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "trial not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "trial": t})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"message": message},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}
