// Package httprequest provides the action/http node: templated HTTP calls
// whose failures become branchable error markers instead of aborting the
// run.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/protocol"
	"github.com/brianstittsr/loom/pkg/template"
)

// Config defines the configuration for HTTP request nodes.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout"`
	Retries RetryConfig       `json:"retries"`
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int `json:"attempts"`
	Delay    int `json:"delay"`
}

// Node performs one HTTP request per visit. A non-2xx response or
// transport error is recorded as a warning and bound as an error marker
// value so downstream nodes can branch on it.
type Node struct {
	config Config
	client *http.Client
}

// NewNode creates an HTTP request node from a raw config mapping.
func NewNode(config map[string]any) (*Node, error) {
	parsed := Config{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: 30,
		Retries: RetryConfig{Attempts: 1, Delay: 0},
	}

	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, errors.New("missing required field 'url'")
	}

	parsed.URL = url

	if method, ok := config["method"].(string); ok {
		parsed.Method = strings.ToUpper(method)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				parsed.Headers[key] = strVal
			}
		}
	}

	if body, ok := config["body"].(string); ok {
		parsed.Body = body
	}

	if timeout, ok := config["timeout"].(float64); ok {
		parsed.Timeout = int(timeout)
	}

	if retries, ok := config["retries"].(map[string]any); ok {
		if attempts, ok := retries["attempts"].(float64); ok {
			parsed.Retries.Attempts = int(attempts)
		}

		if delay, ok := retries["delay"].(float64); ok {
			parsed.Retries.Delay = int(delay)
		}
	}

	return &Node{
		config: parsed,
		client: &http.Client{},
	}, nil
}

// Execute renders the URL, headers and body against the current data
// value and performs the request with a bounded timeout.
func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.NodeOutput, error) {
	vars := template.Vars(input)

	url, err := template.Render(n.config.URL, vars)
	if err != nil {
		return n.errorMarker(0, fmt.Sprintf("failed to render URL template: %v", err)), nil
	}

	var body string

	if n.config.Body != "" {
		body, err = template.Render(n.config.Body, vars)
		if err != nil {
			return n.errorMarker(0, fmt.Sprintf("failed to render body template: %v", err)), nil
		}
	}

	headers := make(map[string]string, len(n.config.Headers))

	for key, value := range n.config.Headers {
		rendered, err := template.Render(value, vars)
		if err != nil {
			headers[key] = value // Use original value if template fails
		} else {
			headers[key] = rendered
		}
	}

	var lastErr error

	for attempt := 1; attempt <= n.config.Retries.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return protocol.NodeOutput{}, ctx.Err()
			case <-time.After(time.Duration(n.config.Retries.Delay) * time.Millisecond):
			}
		}

		result, err := n.performRequest(ctx, url, body, headers)
		if err == nil {
			return protocol.NodeOutput{
				Data: result,
				Logs: []protocol.LogRecord{{
					Level:   models.LogLevelInfo,
					Message: fmt.Sprintf("%s %s returned %v", n.config.Method, url, result["status_code"]),
				}},
			}, nil
		}

		if errors.Is(err, context.Canceled) {
			return protocol.NodeOutput{}, err
		}

		lastErr = err

		// Don't retry on HTTP-level errors, only on transport failures
		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) {
			return n.errorMarker(httpErr.StatusCode,
				fmt.Sprintf("%s %s failed: %v", n.config.Method, url, err)), nil
		}
	}

	return n.errorMarker(0,
		fmt.Sprintf("%s %s failed after %d attempts: %v", n.config.Method, url, n.config.Retries.Attempts, lastErr)), nil
}

// HTTPError represents an HTTP error response with its status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// performRequest executes a single HTTP request.
func (n *Node) performRequest(ctx context.Context, url, body string, headers map[string]string) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(n.config.Timeout)*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, n.config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        string(respBody),
		"success":     true,
	}

	// Parsed JSON is exposed under "json" for downstream templates
	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}

// errorMarker builds the warning output bound downstream when the call
// fails. The run continues; only this node's value carries the failure.
func (n *Node) errorMarker(statusCode int, message string) protocol.NodeOutput {
	marker := map[string]any{
		"error":   message,
		"success": false,
	}

	if statusCode > 0 {
		marker["status_code"] = statusCode
	}

	return protocol.NodeOutput{
		Data: marker,
		Logs: []protocol.LogRecord{{
			Level:   models.LogLevelWarning,
			Message: message,
		}},
	}
}

func flattenHeaders(header http.Header) map[string]any {
	flat := make(map[string]any, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
