// Package client talks to a remote traffic server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"golang.org/x/oauth2/clientcredentials"
)

// Client is a traffic API client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates requests with a static API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClientCredentials authenticates requests with OAuth2 access tokens
// obtained through the client credentials grant. The tokens are verified by
// the server as OIDC bearer tokens.
func WithClientCredentials(ctx context.Context, cfg *clientcredentials.Config) Option {
	return func(c *Client) {
		hc := cfg.Client(ctx)
		hc.Timeout = c.http.Timeout
		c.http = hc
	}
}

// New creates a new Client for the server at serverURL.
func New(serverURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q must use http or https", serverURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is an error response of the server. It unwraps to the domain
// error matching its code so callers can use errors.Is.
type APIError struct {
	Status int
	domain.StandardError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case domain.ErrCodeResourceNotFound:
		return domain.ErrNotFound
	case domain.ErrCodeResourceAlreadyExists:
		return domain.ErrAlreadyExists
	case domain.ErrCodeInvalidInput, domain.ErrCodeValidationError:
		return domain.ErrInvalidInput
	case domain.ErrCodeUnauthorized:
		return domain.ErrUnauthorized
	case domain.ErrCodePreconditionFailed:
		return domain.ErrRevisionMismatch
	case domain.ErrCodeUnsafeReduction:
		return domain.ErrUnsafeReduction
	case domain.ErrCodeInconsistent:
		return domain.ErrInconsistentInfrastructure
	case domain.ErrCodeStoreFailure:
		return domain.ErrStoreFailure
	case domain.ErrCodeDirectoryFailure:
		return domain.ErrDirectoryFailure
	}
	return nil
}

// Versions lists the live versions of an application.
func (c *Client) Versions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	var versions []domain.StackVersion
	if _, err := c.do(ctx, http.MethodGet, c.appPath(application, "versions"), nil, nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// Distribution returns the current traffic distribution of an application.
func (c *Client) Distribution(ctx context.Context, application string) (*domain.RebalanceResult, error) {
	var result domain.RebalanceResult
	if _, err := c.do(ctx, http.MethodGet, c.appPath(application, "traffic"), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetWeight asks the server to rebalance an application. On an unsafe
// reduction the unchanged distribution is returned with the error.
func (c *Client) SetWeight(ctx context.Context, req *domain.RebalanceRequest) (*domain.RebalanceResult, error) {
	path := c.appPath(req.Application, "traffic")
	if req.DryRun {
		path += "?dryRun=true"
	}
	headers := map[string]string{}
	if req.Revision != "" {
		headers["If-Match"] = `"` + req.Revision + `"`
	}
	body := &domain.SetTrafficRequest{
		Version:         req.Version,
		Percentage:      &req.Percentage,
		RequireExisting: req.RequireExisting,
	}

	var result domain.RebalanceResult
	apiErr, err := c.do(ctx, http.MethodPut, path, headers, body, &result)
	if err != nil {
		if apiErr != nil && apiErr.Code == domain.ErrCodeUnsafeReduction {
			if dist := distributionFrom(apiErr.Details); dist != nil {
				return dist, err
			}
		}
		return nil, err
	}
	return &result, nil
}

func (c *Client) appPath(application, resource string) string {
	return "/api/v1/applications/" + url.PathEscape(application) + "/" + resource
}

// do performs a request and decodes a successful response into out.
// Error responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any) (*APIError, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope domain.StandardErrorResponse
		if jerr := json.Unmarshal(data, &envelope); jerr == nil && envelope.Error.Code != "" {
			apiErr.StandardError = envelope.Error
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr, apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil, nil
}

// distributionFrom decodes the distribution attached to an error response.
func distributionFrom(details map[string]any) *domain.RebalanceResult {
	raw, ok := details["distribution"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var result domain.RebalanceResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

// IsAPIError reports whether err came from the server rather than the transport.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
