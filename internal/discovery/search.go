package discovery

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/grantsgov"
)

// Registry is the subset of the grants registry client the pipeline uses.
type Registry interface {
	Search(ctx context.Context, req grantsgov.SearchRequest) (*grantsgov.SearchResult, error)
	FetchOpportunity(ctx context.Context, oppID string) (json.RawMessage, error)
}

// Page holds the outcome of fetching one page of one catalog query.
type Page struct {
	IDs        []string
	TotalPages int
}

// FetchQueryPage executes a query's stored payload for its current page.
// The payload's pagination field is always overridden from the cursor; the
// rest of the payload is passed through untouched.
func FetchQueryPage(ctx context.Context, reg Registry, q *model.DiscoveryQuery) (*Page, error) {
	var req grantsgov.SearchRequest
	if err := json.Unmarshal(q.Payload, &req); err != nil {
		return nil, eris.Wrapf(err, "discovery: decode payload for query %s", q.Name)
	}

	if req.Rows <= 0 {
		req.Rows = grantsgov.DefaultRows
	}
	page := q.CurrentPage
	if page < 1 {
		page = 1
	}
	req.StartRecordNum = (page - 1) * req.Rows

	result, err := reg.Search(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: search query %s page %d", q.Name, page)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if hit.ID != "" {
			ids = append(ids, hit.ID)
		}
	}

	return &Page{IDs: ids, TotalPages: result.TotalPages}, nil
}

// NextPage advances a query's pagination cursor. Once the cursor reaches
// the last known page it wraps to 1, so each query sweeps its full result
// set across runs and self-heals when the upstream count changes.
func NextPage(current, totalPages int) int {
	if current >= totalPages {
		return 1
	}
	return current + 1
}
