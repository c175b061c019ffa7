// Package backend calls the external speech-to-text, risk-analysis and
// scenario REST APIs. The heavy lifting happens server-side; this client
// wraps each call in retry and a circuit breaker so a flaky backend
// degrades instead of cascading.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voiceguard/platform/internal/resilience"
	"github.com/voiceguard/platform/internal/trace"
)

// Client is a thread-safe REST client for the analysis backend. The
// speech-to-text path runs behind its own fast breaker so a stuck STT
// service fails a simulation round quickly instead of holding it for
// the full default reset window.
type Client struct {
	baseURL    string
	http       *http.Client
	breaker    *resilience.Breaker
	sttBreaker *resilience.Breaker
	retry      resilience.RetryConfig
}

// New builds a client for the given base URL. A zero timeout falls back
// to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: timeout},
		breaker:    resilience.New(resilience.DefaultConfig()),
		sttBreaker: resilience.New(resilience.FastConfig()),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// Transcribe submits one WAV-encoded answer for speech-to-text and
// returns the recognized transcript, which may be empty for an
// unintelligible segment.
func (c *Client) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "backend.transcribe")
	defer span.End()
	span.SetAttr("bytes", len(wav))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(audioFieldName, filename)
	if err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}

	reply, err := resilience.ExecuteWithResult(c.sttBreaker, func() (sttResponse, error) {
		var r sttResponse
		err := resilience.Retry(ctx, c.retry, func() error {
			return c.once(ctx, http.MethodPost, sttPath, mw.FormDataContentType(), body.Bytes(), &r)
		})
		return r, err
	})
	if err != nil {
		return "", err
	}
	if !reply.Success {
		if reply.Error != "" {
			return "", fmt.Errorf("transcription rejected: %s", reply.Error)
		}
		return "", fmt.Errorf("transcription rejected")
	}
	return reply.Transcript, nil
}

// AnalyzeTranscript submits the complete round-by-round transcript of a
// finished simulation and returns the scored review.
func (c *Client) AnalyzeTranscript(ctx context.Context, transcript string) (*Analysis, error) {
	ctx, span := trace.StartSpan(ctx, "backend.analyze")
	defer span.End()

	payload, err := json.Marshal(map[string]string{"transcript": transcript})
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	var analysis Analysis
	if err := c.do(ctx, http.MethodPost, analyzePath, "application/json", payload, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Scenarios fetches the training scenario catalog.
func (c *Client) Scenarios(ctx context.Context) ([]ScenarioSummary, error) {
	var reply scenarioListResponse
	if err := c.do(ctx, http.MethodGet, scenarioPath, "", nil, &reply); err != nil {
		return nil, err
	}
	if !reply.Success {
		if reply.Error != "" {
			return nil, fmt.Errorf("scenario catalog: %s", reply.Error)
		}
		return nil, fmt.Errorf("scenario catalog unavailable")
	}
	return reply.Scenarios, nil
}

// Scenario fetches one scenario with its ordered rounds.
func (c *Client) Scenario(ctx context.Context, id int) (*Scenario, error) {
	var scenario Scenario
	path := fmt.Sprintf("%s/%d", scenarioPath, id)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// do runs one request through the breaker and retry policy, decoding a
// 2xx JSON body into out. Non-2xx statuses surface as StatusError so
// the retry classifier can tell 429/5xx from client mistakes.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	return c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			return c.once(ctx, method, path, contentType, body, out)
		})
	})
}

func (c *Client) once(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w", method, path, &resilience.StatusError{Code: resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s reply: %w", path, err)
	}
	return nil
}
