// Package contentunderstanding is a small client for the Azure AI Content
// Understanding REST API: analyzer create/delete, analyze, and polling of
// the long-running operations both return.
package contentunderstanding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
)

const (
	moduleName    = "contentunderstanding"
	moduleVersion = "v0.1.0"

	// TokenScope is the scope requested for bearer tokens.
	TokenScope = "https://cognitiveservices.azure.com/.default"

	DefaultPollTimeout  = 120 * time.Second
	DefaultPollInterval = 2 * time.Second

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	operationHeader       = "Operation-Location"
	userAgentHeader       = "x-ms-useragent"
	userAgent             = "video-tagging-api"
)

var (
	// ErrPollTimeout is returned when an operation does not finish in time.
	ErrPollTimeout = errors.New("operation timed out")
	// ErrOperationFailed is returned when the service reports a failed operation.
	ErrOperationFailed = errors.New("operation failed")
)

// ClientOptions configures a Client. One of SubscriptionKey or Credential
// is required; the key wins when both are set.
type ClientOptions struct {
	azcore.ClientOptions

	SubscriptionKey string
	Credential      azcore.TokenCredential
	PollInterval    time.Duration
}

// Client talks to one Content Understanding endpoint.
type Client struct {
	endpoint     string
	apiVersion   string
	pl           runtime.Pipeline
	pollInterval time.Duration
}

// Operation is a long-running operation accepted by the service.
type Operation struct {
	AnalyzerID string
	Location   string
}

func NewClient(endpoint, apiVersion string, opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if apiVersion == "" {
		return nil, errors.New("api version is required")
	}

	headers := headerPolicy{userAgentHeader: userAgent}
	perRetry := []policy.Policy{headers}
	switch {
	case opts.SubscriptionKey != "":
		headers[subscriptionKeyHeader] = opts.SubscriptionKey
	case opts.Credential != nil:
		perRetry = append(perRetry, runtime.NewBearerTokenPolicy(opts.Credential, []string{TokenScope}, nil))
	default:
		return nil, errors.New("a subscription key or token credential is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{PerRetry: perRetry}, &opts.ClientOptions)
	return &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiVersion:   apiVersion,
		pl:           pl,
		pollInterval: interval,
	}, nil
}

// BeginCreateAnalyzer registers analyzerID using template as its definition.
func (c *Client) BeginCreateAnalyzer(ctx context.Context, analyzerID string, template []byte) (*Operation, error) {
	if !json.Valid(template) {
		return nil, errors.New("analyzer template is not valid JSON")
	}

	req, err := c.newRequest(ctx, http.MethodPut, "analyzers/"+url.PathEscape(analyzerID))
	if err != nil {
		return nil, err
	}
	if err := req.SetBody(streaming.NopCloser(bytes.NewReader(template)), "application/json"); err != nil {
		return nil, err
	}

	return c.begin(req, analyzerID, "create analyzer")
}

// BeginAnalyze submits the file at fileURL to analyzerID.
func (c *Client) BeginAnalyze(ctx context.Context, analyzerID, fileURL string) (*Operation, error) {
	body, err := json.Marshal(map[string]string{"url": fileURL})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "analyzers/"+url.PathEscape(analyzerID)+":analyze")
	if err != nil {
		return nil, err
	}
	if err := req.SetBody(streaming.NopCloser(bytes.NewReader(body)), "application/json"); err != nil {
		return nil, err
	}

	return c.begin(req, analyzerID, "analyze")
}

// PollResult polls op until it succeeds, fails or timeout elapses. The body
// of the final status response is returned unchanged.
func (c *Client) PollResult(ctx context.Context, op *Operation, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := func() error {
		return fmt.Errorf("%w after %.2f seconds", ErrPollTimeout, timeout.Seconds())
	}

	for {
		body, status, err := c.getStatus(pollCtx, op)
		if err != nil {
			if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				return nil, timedOut()
			}
			return nil, err
		}

		switch strings.ToLower(status.Status) {
		case "succeeded":
			return body, nil
		case "failed":
			return nil, status.failure()
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, timedOut()
		case <-time.After(c.pollInterval):
		}
	}
}

// DeleteAnalyzer removes analyzerID from the service. Deleting an analyzer
// that does not exist succeeds.
func (c *Client) DeleteAnalyzer(ctx context.Context, analyzerID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "analyzers/"+url.PathEscape(analyzerID))
	if err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return fmt.Errorf("delete analyzer: %w", err)
	}
	defer runtime.Drain(resp)
	// 404: already gone
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusNoContent, http.StatusNotFound) {
		return fmt.Errorf("delete analyzer: %w", runtime.NewResponseError(resp))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, c.endpoint+"/contentunderstanding/"+path)
	if err != nil {
		return nil, err
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", c.apiVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) begin(req *policy.Request, analyzerID, what string) (*Operation, error) {
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer runtime.Drain(resp)
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted) {
		return nil, fmt.Errorf("%s: %w", what, runtime.NewResponseError(resp))
	}

	loc := resp.Header.Get(operationHeader)
	if loc == "" {
		return nil, fmt.Errorf("%s: response has no %s header", what, operationHeader)
	}
	return &Operation{AnalyzerID: analyzerID, Location: loc}, nil
}

func (c *Client) getStatus(ctx context.Context, op *Operation) (json.RawMessage, *operationStatus, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, op.Location)
	if err != nil {
		return nil, nil, err
	}
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("poll operation: %w", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		defer runtime.Drain(resp)
		return nil, nil, fmt.Errorf("poll operation: %w", runtime.NewResponseError(resp))
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("poll operation: %w", err)
	}
	var status operationStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, nil, fmt.Errorf("poll operation: malformed status: %w", err)
	}
	return body, &status, nil
}

type operationStatus struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *operationStatus) failure() error {
	if s.Error == nil || (s.Error.Code == "" && s.Error.Message == "") {
		return ErrOperationFailed
	}
	return fmt.Errorf("%w: %s: %s", ErrOperationFailed, s.Error.Code, s.Error.Message)
}

type headerPolicy map[string]string

func (p headerPolicy) Do(req *policy.Request) (*http.Response, error) {
	for k, v := range p {
		req.Raw().Header.Set(k, v)
	}
	return req.Next()
}
