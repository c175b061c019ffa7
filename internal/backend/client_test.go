package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voiceguard/platform/internal/resilience"
)

// noRetry makes failures deterministic and fast in tests.
func noRetry(c *Client) *Client {
	c.retry.IsRetryable = func(error) bool { return false }
	return c
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/simulation/stt" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart form: %v", err)
		}
		file, header, err := r.FormFile("audio_file")
		if err != nil {
			t.Fatalf("audio_file field missing: %v", err)
		}
		defer file.Close()
		if header.Filename != "round_1.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFfake" {
			t.Errorf("payload = %q", data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"transcript":"I never give out my PIN"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	got, err := c.Transcribe(context.Background(), []byte("RIFFfake"), "round_1.wav")
	if err != nil {
		t.Fatalf("Transcribe() = %v", err)
	}
	if got != "I never give out my PIN" {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscribeBackendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"error":"audio too short"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Transcribe(context.Background(), []byte("x"), "a.wav")
	if err == nil || !strings.Contains(err.Error(), "audio too short") {
		t.Errorf("err = %v, want backend rejection reason", err)
	}
}

func TestAnalyzeTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/simulation/analyze" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"transcript":"Q1: hello\nA1: no"`) {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{
			"score": 85,
			"risk_level": "LOW",
			"good_signals": ["refused to share information"],
			"risk_signals": [],
			"coaching": {"principles": ["hang up and call back"]}
		}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	a, err := c.AnalyzeTranscript(context.Background(), "Q1: hello\nA1: no")
	if err != nil {
		t.Fatalf("AnalyzeTranscript() = %v", err)
	}
	if a.Score != 85 || a.RiskLevel != "LOW" {
		t.Errorf("analysis = %+v", a)
	}
	if len(a.Coaching.Principles) != 1 {
		t.Errorf("principles = %v", a.Coaching.Principles)
	}
}

func TestScenarios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"total":2,"scenarios":[
			{"id":1,"title":"Prosecutor impersonation","rounds_count":3},
			{"id":2,"title":"Bank security team","rounds_count":2}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	list, err := c.Scenarios(context.Background())
	if err != nil {
		t.Fatalf("Scenarios() = %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].RoundsCount != 2 {
		t.Errorf("scenarios = %+v", list)
	}
}

func TestScenarioByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/scenarios/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"id":7,"title":"Delivery scam","rounds":[
			{"round":1,"question":"You have an unpaid customs fee."},
			{"round":2,"question":"Please install our payment app."}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	s, err := c.Scenario(context.Background(), 7)
	if err != nil {
		t.Fatalf("Scenario() = %v", err)
	}
	if s.ID != 7 || len(s.Rounds) != 2 || s.Rounds[1].Round != 2 {
		t.Errorf("scenario = %+v", s)
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := noRetry(New(srv.URL, time.Second))
	_, err := c.Scenarios(context.Background())
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want StatusError 503", err)
	}
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"success":true,"scenarios":[],"total":0}`)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	c.retry.BaseDelay = time.Millisecond
	if _, err := c.Scenarios(context.Background()); err != nil {
		t.Fatalf("Scenarios() = %v after retry", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := noRetry(New(srv.URL, time.Second))
	c.breaker = resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	for i := 0; i < 2; i++ {
		if _, err := c.Scenarios(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.Scenarios(context.Background())
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want circuit open", err)
	}
}

func TestSTTBreakerTripsIndependently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/simulation/stt" {
			http.Error(w, "stt down", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"success":true,"scenarios":[],"total":0}`)
	}))
	defer srv.Close()

	c := noRetry(New(srv.URL, time.Second))
	c.sttBreaker = resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	for i := 0; i < 2; i++ {
		if _, err := c.Transcribe(context.Background(), []byte("x"), "a.wav"); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.Transcribe(context.Background(), []byte("x"), "a.wav")
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want STT circuit open", err)
	}

	// The default breaker is unaffected: other endpoints still work.
	if _, err := c.Scenarios(context.Background()); err != nil {
		t.Errorf("Scenarios() = %v, want success on separate breaker", err)
	}
}
