package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trialscout/trialscout/internal/augment"
	"github.com/trialscout/trialscout/internal/trial"
)

type fakeSource struct {
	trials []trial.Trial
	err    error
}

func (f *fakeSource) GetTrial(nctID string) (trial.Trial, bool, error) {
	if f.err != nil {
		return trial.Trial{}, false, f.err
	}
	for _, t := range f.trials {
		if t.NCTID == nctID {
			return t, true, nil
		}
	}
	return trial.Trial{}, false, nil
}

func (f *fakeSource) ListTrials() ([]trial.Trial, error) {
	return f.trials, f.err
}

type fakeLLM struct{}

func (fakeLLM) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return `{"rationale":"Criteria align with the profile.","adjustment":0.01}`, nil
}

func storedTrials() []trial.Trial {
	return []trial.Trial{
		{
			NCTID:      "NCT00000001",
			Title:      "HER2 Study",
			Status:     trial.StatusRecruiting,
			Conditions: []string{"HER2-Positive Breast Cancer"},
		},
		{
			NCTID:      "NCT00000002",
			Title:      "Generic Study",
			Status:     trial.StatusRecruiting,
			Conditions: []string{"Breast Cancer"},
		},
	}
}

func postMatch(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/match", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMatchEndpointWithStoreFallback(t *testing.T) {
	handler := NewServer(&fakeSource{trials: storedTrials()}, nil)
	rec := postMatch(t, handler, `{"profile":{"cancer_type":"breast cancer"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OK         bool                `json:"ok"`
		RunID      string              `json:"run_id"`
		Results    []trial.MatchResult `json:"results"`
		Count      int                 `json:"count"`
		Disclaimer string              `json:"disclaimer"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Count != 2 || len(resp.Results) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.RunID == "" {
		t.Fatal("run_id missing")
	}
	if resp.Disclaimer != trial.Disclaimer {
		t.Fatal("disclaimer missing from response")
	}
}

func TestMatchEndpointMissingCancerType(t *testing.T) {
	handler := NewServer(&fakeSource{trials: storedTrials()}, nil)
	rec := postMatch(t, handler, `{"profile":{}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cancer_type") {
		t.Fatalf("error should name the missing field: %s", rec.Body.String())
	}
}

func TestMatchEndpointInlineRawRecords(t *testing.T) {
	handler := NewServer(nil, nil)
	body := `{
		"profile": {"cancer_type": "breast cancer"},
		"raw_records": [
			{"protocolSection":{"identificationModule":{"nctId":"NCT00000009","briefTitle":"Inline"},"statusModule":{"overallStatus":"RECRUITING"},"conditionsModule":{"conditions":["Breast Cancer"]}}},
			{"protocolSection":{"identificationModule":{"nctId":"bad-id"}}}
		]
	}`
	rec := postMatch(t, handler, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count          int `json:"count"`
		DroppedRecords int `json:"dropped_records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 result from the valid record, got %d", resp.Count)
	}
	if resp.DroppedRecords != 1 {
		t.Fatalf("expected 1 dropped record, got %d", resp.DroppedRecords)
	}
}

func TestMatchEndpointTopKAndAugment(t *testing.T) {
	handler := NewServer(&fakeSource{trials: storedTrials()}, augment.New(fakeLLM{}, augment.Options{}))
	rec := postMatch(t, handler, `{"profile":{"cancer_type":"breast cancer","biomarkers":["HER2"]},"top_k":1,"augment":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []trial.MatchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("top_k not applied: %d results", len(resp.Results))
	}
	if resp.Results[0].AIRationale == nil {
		t.Fatal("augment flag should attach a rationale")
	}
}

func TestMatchEndpointBadJSON(t *testing.T) {
	handler := NewServer(nil, nil)
	rec := postMatch(t, handler, `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMatchEndpointMethodNotAllowed(t *testing.T) {
	handler := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/match", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGetTrialEndpoint(t *testing.T) {
	handler := NewServer(&fakeSource{trials: storedTrials()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/trials/nct00000001", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "HER2 Study") {
		t.Fatalf("trial payload missing: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/trials/NCT99999999", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing trial should 404, got %d", rec.Code)
	}
}

func TestGetTrialSourceError(t *testing.T) {
	handler := NewServer(&fakeSource{err: errors.New("disk gone")}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/trials/NCT00000001", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("health body: %s", rec.Body.String())
	}
}
