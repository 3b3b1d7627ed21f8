package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// ResourceHTTP identifies the HTTP task invoker.
const ResourceHTTP = "http:request"

const (
	defaultMaxResponseBody = 10 * 1024 * 1024
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPInvokerConfig tunes the HTTP invoker.
type HTTPInvokerConfig struct {
	// Client issues the requests. Defaults to a fresh client so shared
	// transports are never mutated.
	Client *http.Client
	// MaxResponseBody caps how many response bytes are read.
	MaxResponseBody int64
	// DefaultTimeout applies when the task input names none.
	DefaultTimeout time.Duration
}

// HTTPInvoker performs an HTTP request described by the task's effective
// input and returns the response as a document:
//
//	{"method": "POST", "url": "...", "headers": {...}, "body": {...},
//	 "fail_on_error_status": true}
//
// The result carries status_code, headers, body (decoded when the response is
// JSON), and duration_ms. Transport failures classify as States.TaskFailed.
type HTTPInvoker struct {
	cfg HTTPInvokerConfig
}

// NewHTTPInvoker creates an HTTPInvoker, filling config defaults.
func NewHTTPInvoker(cfg HTTPInvokerConfig) *HTTPInvoker {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPInvoker{cfg: cfg}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, input any, beat Heartbeat) (any, error) {
	params, ok := input.(map[string]any)
	if !ok {
		return nil, asl.NewStatesError(asl.ErrorTaskFailed, "http task input must be an object")
	}

	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return nil, asl.NewStatesError(asl.ErrorTaskFailed, "http task input is missing \"url\"")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, asl.NewStatesErrorf(asl.ErrorTaskFailed, "invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", http.MethodGet))

	timeout := h.cfg.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, perr := time.ParseDuration(ts); perr == nil {
			timeout = d
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	if raw, exists := params["body"]; exists && raw != nil {
		b, merr := json.Marshal(raw)
		if merr != nil {
			return nil, asl.NewStatesErrorf(asl.ErrorTaskFailed, "marshal request body: %s", merr.Error()).WithWrapped(merr)
		}
		body = strings.NewReader(string(b))
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, asl.AsStatesError(err, asl.ErrorTaskFailed)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, exists := params["headers"].(map[string]any); exists {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	start := time.Now()
	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return nil, asl.AsStatesError(err, asl.ErrorTaskFailed)
	}
	defer resp.Body.Close()
	beat()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBody))
	if err != nil {
		return nil, asl.AsStatesError(err, asl.ErrorTaskFailed)
	}

	respType := resp.Header.Get("Content-Type")
	var parsed any
	switch {
	case len(raw) == 0:
		parsed = nil
	case strings.Contains(respType, "application/json"):
		if json.Unmarshal(raw, &parsed) != nil {
			parsed = string(raw)
		}
	default:
		parsed = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code":  float64(resp.StatusCode),
		"headers":      headers,
		"body":         parsed,
		"content_type": respType,
		"duration_ms":  float64(time.Since(start).Milliseconds()),
	}

	if boolParam(params, "fail_on_error_status", false) && resp.StatusCode >= 400 {
		return nil, asl.NewStatesErrorf(asl.ErrorTaskFailed, "server returned %d", resp.StatusCode)
	}
	return result, nil
}

func stringParam(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return fallback
}

func boolParam(m map[string]any, key string, fallback bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return fallback
}
