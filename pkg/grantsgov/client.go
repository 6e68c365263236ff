// Package grantsgov is a client for the Grants.gov search2 API.
package grantsgov

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.grants.gov/v1/api"

// Client performs search and detail lookups against the grants registry.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	FetchOpportunity(ctx context.Context, oppID string) (json.RawMessage, error)
}

// SearchRequest is the request body for POST /search2. Query payloads are
// stored opaquely in the catalog as exactly this shape; the fetcher only
// overrides StartRecordNum before sending.
type SearchRequest struct {
	Keyword           string `json:"keyword,omitempty"`
	OppNum            string `json:"oppNum,omitempty"`
	OppStatuses       string `json:"oppStatuses,omitempty"`
	FundingInstruments string `json:"fundingInstruments,omitempty"`
	Eligibilities     string `json:"eligibilities,omitempty"`
	FundingCategories string `json:"fundingCategories,omitempty"`
	Agencies          string `json:"agencies,omitempty"`
	DateRange         string `json:"dateRange,omitempty"`
	SortBy            string `json:"sortBy,omitempty"`
	Rows              int    `json:"rows,omitempty"`
	StartRecordNum    int    `json:"startRecordNum"`
}

// DefaultRows is the page size used when a stored payload does not set one.
const DefaultRows = 25

// OppSummary is one abbreviated hit from the search endpoint. Deadline,
// eligibility and long description are deliberately omitted upstream; the
// detail call is mandatory for those.
type OppSummary struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Title      string `json:"title"`
	Agency     string `json:"agency"`
	AgencyCode string `json:"agencyCode"`
	OpenDate   string `json:"openDate"`
	CloseDate  string `json:"closeDate"`
	OppStatus  string `json:"oppStatus"`
}

// SearchResult is one page of search hits plus upstream totals.
type SearchResult struct {
	Hits       []OppSummary
	HitCount   int
	TotalPages int
}

// searchEnvelope mirrors the upstream response wrapper.
type searchEnvelope struct {
	ErrorCode int    `json:"errorcode"`
	Msg       string `json:"msg"`
	Data      struct {
		HitCount    int          `json:"hitCount"`
		StartRecord int          `json:"startRecord"`
		OppHits     []OppSummary `json:"oppHits"`
	} `json:"data"`
}

// fetchEnvelope mirrors the fetchOpportunity response wrapper. Data is left
// raw: the payload is upstream-controlled and goes straight to extraction.
type fetchEnvelope struct {
	ErrorCode int             `json:"errorcode"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound request rate (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a grants registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search issues one search2 call and returns the page of hits with the
// upstream-reported totals. TotalPages is derived from the hit count and
// the requested page size.
func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Rows <= 0 {
		req.Rows = DefaultRows
	}

	var env searchEnvelope
	if err := c.post(ctx, "/search2", req, &env); err != nil {
		return nil, err
	}
	if env.ErrorCode != 0 {
		return nil, eris.Errorf("grantsgov: search2 error %d: %s", env.ErrorCode, env.Msg)
	}

	totalPages := env.Data.HitCount / req.Rows
	if env.Data.HitCount%req.Rows != 0 {
		totalPages++
	}

	return &SearchResult{
		Hits:       env.Data.OppHits,
		HitCount:   env.Data.HitCount,
		TotalPages: totalPages,
	}, nil
}

// FetchOpportunity returns the full record for one opportunity id.
func (c *httpClient) FetchOpportunity(ctx context.Context, oppID string) (json.RawMessage, error) {
	if oppID == "" {
		return nil, eris.New("grantsgov: empty opportunity id")
	}

	var env fetchEnvelope
	if err := c.post(ctx, "/fetchOpportunity", map[string]string{"oppId": oppID}, &env); err != nil {
		return nil, err
	}
	if env.ErrorCode != 0 {
		return nil, eris.Errorf("grantsgov: fetchOpportunity error %d: %s", env.ErrorCode, env.Msg)
	}
	if len(env.Data) == 0 {
		return nil, eris.Errorf("grantsgov: empty detail payload for %s", oppID)
	}

	return env.Data, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "grantsgov: rate limit wait")
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrapf(err, "grantsgov: marshal %s request", path)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrapf(err, "grantsgov: create %s request", path)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "grantscout/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrapf(err, "grantsgov: POST %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("grantsgov: POST %s returned %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "grantsgov: read %s response", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "grantsgov: decode %s response", path)
	}
	return nil
}
