// Package exec provides reference executors for driver-backed node types:
// an HTTP request executor, a scripted expression executor, and a mock
// executor for tests. They are registered explicitly; nothing in the core
// dispatch path depends on this package.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowgraph/flowgraph-go/flow"
)

// ResponseKey is the default runtime data key the HTTP executor stores its
// response under. Response conditions read the same key.
const ResponseKey = "lastResponse"

// HTTPConfig is the node config consumed by HTTPExecutor.
type HTTPConfig struct {
	// Method is the HTTP method, GET when empty. GET and POST are
	// supported.
	Method string

	// URL is the request target. Required.
	URL string

	// Headers are added to the request.
	Headers map[string]string

	// Body is the request body for POST requests.
	Body string

	// StoreAs overrides the runtime data key the response is written to.
	// Defaults to ResponseKey.
	StoreAs string
}

// HTTPExecutor executes action nodes that perform HTTP requests.
//
// The response is staged into runtime data as a map with keys "status"
// (int), "headers" (map[string]any), and "body" (string), where the
// response-status and response-body conditions expect it. Like every
// executor write, it is committed only if the step's final outcome is
// success.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTP executor. A nil client uses
// http.DefaultClient; per-step budgets come from node timeouts via the
// request context.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

// Execute implements flow.Executor.
func (h *HTTPExecutor) Execute(ctx context.Context, node flow.Node, rs flow.RuntimeState) flow.StepResult {
	cfg, ok := node.Config.(HTTPConfig)
	if !ok {
		return flow.Fail(&flow.FatalRunError{NodeID: node.ID, Message: "http node config is not an HTTPConfig"})
	}
	if cfg.URL == "" {
		return flow.Fail(&flow.StepFailure{NodeID: node.ID, Message: "http node is missing a URL"})
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return flow.Fail(&flow.StepFailure{
			NodeID:  node.ID,
			Message: fmt.Sprintf("unsupported HTTP method %q (supported: GET, POST)", cfg.Method),
		})
	}

	var body io.Reader
	if cfg.Body != "" {
		body = bytes.NewBufferString(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return flow.Fail(&flow.StepFailure{
			NodeID:  node.ID,
			Message: "failed to build request: " + err.Error(),
			Cause:   err,
		})
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	trace := []string{fmt.Sprintf("%s %s", method, cfg.URL)}
	resp, err := h.client.Do(req)
	if err != nil {
		return flow.StepResult{
			Status: flow.StatusFailure,
			Trace:  trace,
			Err: &flow.StepFailure{
				NodeID:  node.ID,
				Message: "request failed: " + err.Error(),
				Trace:   trace,
				Cause:   err,
			},
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return flow.Fail(&flow.StepFailure{
			NodeID:  node.ID,
			Message: "failed to read response body: " + err.Error(),
			Cause:   err,
		})
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = values
		}
	}
	response := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(respBody),
	}

	key := cfg.StoreAs
	if key == "" {
		key = ResponseKey
	}
	rs.SetData(key, response)

	trace = append(trace, fmt.Sprintf("response %d (%d bytes)", resp.StatusCode, len(respBody)))
	return flow.StepResult{
		Status: flow.StatusSuccess,
		Output: response,
		Trace:  trace,
	}
}
