package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxAdapterErrorBodyBytes caps error bodies captured for diagnostics.
const maxAdapterErrorBodyBytes = 512

// HTTPAdapter speaks a minimal JSON contract to a local daemon provider:
// POST {base}/v1/complete with {"prompt","model"} and GET {base}/healthz.
type HTTPAdapter struct {
	providerID string
	baseURL    string
	client     *http.Client
}

// NewHTTPAdapter constructs an adapter for a daemon provider endpoint.
func NewHTTPAdapter(providerID, baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		providerID: providerID,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:     &http.Client{Timeout: 0}, // per-attempt timeout comes from ctx
	}
}

type completeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type completeResponse struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
}

// Call sends one completion request to the daemon.
func (a *HTTPAdapter) Call(ctx context.Context, prompt, model string) (*CallResult, error) {
	if a == nil || a.baseURL == "" {
		return nil, &CallError{Provider: a.id(), Message: "adapter not configured"}
	}

	payload, errMarshal := json.Marshal(completeRequest{Prompt: prompt, Model: model})
	if errMarshal != nil {
		return nil, &CallError{Provider: a.id(), Message: "encode request", Err: errMarshal}
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/complete", bytes.NewReader(payload))
	if errReq != nil {
		return nil, &CallError{Provider: a.id(), Message: "build request", Err: errReq}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := a.client.Do(req)
	if errDo != nil {
		return nil, &CallError{Provider: a.id(), Err: errDo}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAdapterErrorBodyBytes))
		return nil, &CallError{
			Provider:   a.id(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var decoded completeResponse
	if errDecode := json.NewDecoder(resp.Body).Decode(&decoded); errDecode != nil {
		return nil, &CallError{Provider: a.id(), Message: "decode response", Err: errDecode}
	}
	return &CallResult{Content: decoded.Content, Usage: decoded.Usage}, nil
}

// Health probes the daemon's health endpoint.
func (a *HTTPAdapter) Health(ctx context.Context) bool {
	if a == nil || a.baseURL == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, errReq := http.NewRequestWithContext(probeCtx, http.MethodGet, a.baseURL+"/healthz", nil)
	if errReq != nil {
		return false
	}
	resp, errDo := a.client.Do(req)
	if errDo != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (a *HTTPAdapter) id() string {
	if a == nil {
		return ""
	}
	if a.providerID != "" {
		return a.providerID
	}
	return fmt.Sprintf("http(%s)", a.baseURL)
}

var _ Adapter = (*HTTPAdapter)(nil)
