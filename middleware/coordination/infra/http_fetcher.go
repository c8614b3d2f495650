package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"rental-admin-sync/middleware/coordination/domain"
)

const (
	// DefaultPathTemplate segue o contrato GET do backend; {id} é substituído pelo id escapado.
	DefaultPathTemplate = "/api/resources/{id}/last-modified"

	maxTimestampBody = 64 * 1024
)

// HTTPError é devolvido quando o backend responde fora da faixa 2xx.
type HTTPError struct {
	StatusCode int
	URL        string
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Status)
}

// HTTPFetcher implementa domain.TimestampFetcher contra o endpoint de última
// modificação do backend. Aceita last_modified nulo, número (epoch em ms) ou
// string RFC3339; modified_by pode ser nulo.
type HTTPFetcher struct {
	client       *http.Client
	baseURL      string
	pathTemplate string
	headers      http.Header
}

var _ domain.TimestampFetcher = (*HTTPFetcher)(nil)

type HTTPFetcherOption func(*HTTPFetcher)

func WithPathTemplate(tpl string) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if tpl != "" {
			f.pathTemplate = tpl
		}
	}
}

// WithHeader adiciona um header fixo (ex: Authorization) a cada requisição.
func WithHeader(key, value string) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.headers.Set(key, value) }
}

func NewHTTPFetcher(client *http.Client, baseURL string, opts ...HTTPFetcherOption) (*HTTPFetcher, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", baseURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	f := &HTTPFetcher{
		client:       client,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pathTemplate: DefaultPathTemplate,
		headers:      make(http.Header),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *HTTPFetcher) URLFor(resourceID string) string {
	path := strings.ReplaceAll(f.pathTemplate, "{id}", url.PathEscape(resourceID))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.baseURL + path
}

func (f *HTTPFetcher) FetchTimestamp(ctx context.Context, resourceID string) (domain.ResourceTimestamp, error) {
	if resourceID == "" {
		return domain.ResourceTimestamp{}, domain.ErrEmptyResourceID
	}
	u := f.URLFor(resourceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.ResourceTimestamp{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, vs := range f.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.ResourceTimestamp{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ResourceTimestamp{}, &HTTPError{StatusCode: resp.StatusCode, URL: u, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTimestampBody))
	if err != nil {
		return domain.ResourceTimestamp{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return ParseTimestampBody(resourceID, body)
}

// ParseTimestampBody interpreta {last_modified, modified_by}.
func ParseTimestampBody(resourceID string, body []byte) (domain.ResourceTimestamp, error) {
	if !gjson.ValidBytes(body) {
		return domain.ResourceTimestamp{}, fmt.Errorf("invalid JSON body for resource %s", resourceID)
	}

	ts := domain.ResourceTimestamp{ResourceID: resourceID}

	lm := gjson.GetBytes(body, "last_modified")
	switch lm.Type {
	case gjson.Null:
	case gjson.Number:
		ts.LastModified = time.UnixMilli(lm.Int())
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, lm.String())
		if err != nil {
			return domain.ResourceTimestamp{}, fmt.Errorf("invalid last_modified %q: %w", lm.String(), err)
		}
		ts.LastModified = t
	default:
		return domain.ResourceTimestamp{}, fmt.Errorf("unexpected last_modified type %s", lm.Type)
	}

	if mb := gjson.GetBytes(body, "modified_by"); mb.Type == gjson.String {
		ts.ModifiedBy = mb.String()
	}
	return ts, nil
}
