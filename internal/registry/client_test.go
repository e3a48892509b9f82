package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(srv *httptest.Server, maxStudies int) *Client {
	return NewClient(Config{
		BaseURL:            srv.URL,
		PageSize:           2,
		MaxStudies:         maxStudies,
		RateLimitPerMinute: 60000,
		HTTPClient:         srv.Client(),
	})
}

func studyJSON(id string) string {
	return fmt.Sprintf(`{"protocolSection":{"identificationModule":{"nctId":%q}}}`, id)
}

func TestFetchStudiesWalksPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprintf(w, `{"studies":[%s,%s],"nextPageToken":"p2"}`, studyJSON("NCT00000001"), studyJSON("NCT00000002"))
			return
		}
		fmt.Fprintf(w, `{"studies":[%s]}`, studyJSON("NCT00000003"))
	}))
	defer srv.Close()

	out, err := testClient(srv, 100).FetchStudies(context.Background(), Query{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 studies over 2 pages, got %d", len(out))
	}
}

func TestFetchStudiesStopsAtMaxStudies(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		// Endless pages; the cap must cut the walk short.
		fmt.Fprintf(w, `{"studies":[%s,%s],"nextPageToken":"more"}`, studyJSON("NCT00000001"), studyJSON("NCT00000002"))
	}))
	defer srv.Close()

	out, err := testClient(srv, 3).FetchStudies(context.Background(), Query{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected cap at 3, got %d", len(out))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 page fetches, got %d", calls)
	}
}

func TestFetchStudiesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("query.cond") != "breast cancer" {
			t.Errorf("query.cond = %q", q.Get("query.cond"))
		}
		if q.Get("filter.overallStatus") != "RECRUITING" {
			t.Errorf("filter.overallStatus = %q", q.Get("filter.overallStatus"))
		}
		if q.Get("filter.advanced") != "AREA[LastUpdatePostDate]RANGE[2026-01-01,MAX]" {
			t.Errorf("filter.advanced = %q", q.Get("filter.advanced"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"studies":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv, 10).FetchStudies(context.Background(), Query{
		Condition:    "breast cancer",
		Status:       "RECRUITING",
		UpdatedSince: "2026-01-01",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestFetchStudiesRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"studies":[%s]}`, studyJSON("NCT00000001"))
	}))
	defer srv.Close()

	out, err := testClient(srv, 10).FetchStudies(context.Background(), Query{})
	if err != nil {
		t.Fatalf("fetch after retry: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 study, got %d", len(out))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 1 retry, got %d calls", calls)
	}
}

type flakyTransport struct {
	calls int32
	base  http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	return f.base.RoundTrip(r)
}

func TestFetchStudiesRetriesConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"studies":[%s]}`, studyJSON("NCT00000001"))
	}))
	defer srv.Close()

	transport := &flakyTransport{base: srv.Client().Transport}
	client := NewClient(Config{
		BaseURL:            srv.URL,
		MaxStudies:         10,
		RateLimitPerMinute: 60000,
		HTTPClient:         &http.Client{Transport: transport},
	})
	out, err := client.FetchStudies(context.Background(), Query{})
	if err != nil {
		t.Fatalf("fetch after connection failure: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 study, got %d", len(out))
	}
	if atomic.LoadInt32(&transport.calls) != 2 {
		t.Fatalf("connection failure should retry once here, got %d calls", transport.calls)
	}
}

func TestFetchStudiesBadRequestIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv, 10).FetchStudies(context.Background(), Query{})
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls)
	}
}

func TestFetchStudiesHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"studies":[%s]}`, studyJSON("NCT00000001"))
	}))
	defer srv.Close()

	start := time.Now()
	out, err := testClient(srv, 10).FetchStudies(context.Background(), Query{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 study, got %d", len(out))
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("Retry-After not honored, elapsed %v", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("got %v", got)
	}
}
