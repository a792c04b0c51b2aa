package gateway

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tivvis/nlagent/internal/invoke"
)

// Pager walks a paginated collection endpoint one page per Next call. It is
// finite and not restartable: once exhausted (or failed) it stays done, and
// re-iterating requires a fresh Paginate call.
type Pager struct {
	client *Client
	path   string
	params url.Values
	page   int
	done   bool
	failed *invoke.Invocation
}

// Paginate prepares a pager for the given collection endpoint.
func (c *Client) Paginate(path string, params url.Values) *Pager {
	cloned := url.Values{}
	for k, vs := range params {
		cloned[k] = append([]string(nil), vs...)
	}
	cloned.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	return &Pager{client: c, path: path, params: cloned, page: 1}
}

// Next fetches the next page. It returns the page's records and the
// underlying invocation; records are nil once the pager is exhausted.
// Pages arrive in upstream order and are never reordered.
func (p *Pager) Next(ctx context.Context) ([]map[string]interface{}, *invoke.Invocation) {
	if p.done {
		return nil, p.failed
	}

	p.params.Set("page", strconv.Itoa(p.page))
	inv := p.client.Call(ctx, "GET", p.path, p.params, nil)
	if !inv.Success {
		p.done = true
		p.failed = inv
		return nil, inv
	}

	records, hasNext := decodePage(inv.Payload)
	if len(records) == 0 {
		p.done = true
		return nil, inv
	}
	if !hasNext {
		p.done = true
	}
	p.page++
	return records, inv
}

// Done reports whether the pager is exhausted.
func (p *Pager) Done() bool { return p.done }

// Err returns the invocation that terminated the pager, if it failed.
func (p *Pager) Err() *invoke.Invocation { return p.failed }

// decodePage unpacks the upstream envelope: {"data": [...], "meta":
// {"paging": {"next": url}}}. A missing next cursor means the last page.
func decodePage(payload interface{}) ([]map[string]interface{}, bool) {
	env, ok := payload.(map[string]interface{})
	if !ok {
		return nil, false
	}

	var records []map[string]interface{}
	switch data := env["data"].(type) {
	case []interface{}:
		for _, item := range data {
			if rec, ok := item.(map[string]interface{}); ok {
				records = append(records, rec)
			}
		}
	case map[string]interface{}:
		records = append(records, data)
	}

	hasNext := false
	if meta, ok := env["meta"].(map[string]interface{}); ok {
		if paging, ok := meta["paging"].(map[string]interface{}); ok {
			next, _ := paging["next"].(string)
			hasNext = next != ""
		}
	}
	return records, hasNext
}
