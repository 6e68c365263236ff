package grantsgov

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
	)
	return c, srv
}

func TestSearch(t *testing.T) {
	var gotBody SearchRequest
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search2", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"errorcode": 0,
			"msg": "",
			"data": {
				"hitCount": 55,
				"startRecord": 25,
				"oppHits": [
					{"id": "358642", "number": "NOAA-NMFS-HCPO-2026", "title": "Coastal Habitat Restoration"},
					{"id": "358700", "number": "EPA-OW-2026", "title": "Watershed Stewardship"}
				]
			}
		}`))
	})
	defer srv.Close()

	result, err := c.Search(context.Background(), SearchRequest{
		Keyword:        "coastal",
		Rows:           25,
		StartRecordNum: 25,
	})
	require.NoError(t, err)

	assert.Equal(t, "coastal", gotBody.Keyword)
	assert.Equal(t, 25, gotBody.StartRecordNum)

	require.Len(t, result.Hits, 2)
	assert.Equal(t, "358642", result.Hits[0].ID)
	assert.Equal(t, 55, result.HitCount)
	// 55 hits at 25 per page rounds up to 3 pages.
	assert.Equal(t, 3, result.TotalPages)
}

func TestSearchTotalPagesExactMultiple(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorcode":0,"data":{"hitCount":50,"oppHits":[]}}`))
	})
	defer srv.Close()

	result, err := c.Search(context.Background(), SearchRequest{Rows: 25})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalPages)
}

func TestSearchUpstreamError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorcode": 3, "msg": "invalid date range"}`))
	})
	defer srv.Close()

	_, err := c.Search(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date range")
}

func TestSearchHTTPError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	_, err := c.Search(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchOpportunity(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fetchOpportunity", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "358642", body["oppId"])

		_, _ = w.Write([]byte(`{"errorcode":0,"data":{"id":358642,"synopsis":{"awardCeiling":750000}}}`))
	})
	defer srv.Close()

	raw, err := c.FetchOpportunity(context.Background(), "358642")
	require.NoError(t, err)

	// The payload is passed through untouched for the extraction stage.
	var detail map[string]any
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.EqualValues(t, 358642, detail["id"])
}

func TestFetchOpportunityEmptyID(t *testing.T) {
	c := NewClient()
	_, err := c.FetchOpportunity(context.Background(), "")
	require.Error(t, err)
}

func TestFetchOpportunityEmptyPayload(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorcode":0}`))
	})
	defer srv.Close()

	_, err := c.FetchOpportunity(context.Background(), "358642")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty detail payload")
}
