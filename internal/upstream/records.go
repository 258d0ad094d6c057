package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/noah-isme/esim-admin/internal/view"
)

// maxPages bounds full fetches against servers that ignore paging.
const maxPages = 500

var arrayKeys = []string{"items", "rows", "results", "users", "packages", "bundles", "refunds", "applications", "orders", "data"}

var totalPaths = []string{"total", "totalItems", "count", "pagination.total", "pagination.totalItems", "meta.total"}

// Meta is the pagination metadata embedded in a list response, if any.
type Meta struct {
	Total int
	Known bool
}

// extractRecords finds the record array in the envelope data. data may be
// the array itself or an object that holds it under a known key.
func extractRecords(doc gjson.Result) ([]view.Record, Meta) {
	data := doc.Get("data")
	if !data.Exists() && doc.IsArray() {
		data = doc
	}
	var arr gjson.Result
	var meta Meta
	switch {
	case data.IsArray():
		arr = data
	case data.IsObject():
		for _, key := range arrayKeys {
			if candidate := data.Get(key); candidate.IsArray() {
				arr = candidate
				break
			}
		}
		meta = metaFrom(data)
	}
	if !meta.Known {
		meta = metaFrom(doc)
	}
	records := make([]view.Record, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		if m, ok := item.Value().(map[string]any); ok {
			records = append(records, view.Record(m))
		}
	}
	return records, meta
}

func metaFrom(obj gjson.Result) Meta {
	if !obj.IsObject() {
		return Meta{}
	}
	for _, path := range totalPaths {
		if v := obj.Get(path); v.Type == gjson.Number {
			return Meta{Total: int(v.Int()), Known: true}
		}
	}
	return Meta{}
}

func extractRecord(doc gjson.Result) view.Record {
	data := doc.Get("data")
	if m, ok := data.Value().(map[string]any); ok {
		for _, key := range []string{"user", "package", "bundle", "refund"} {
			if nested, ok := m[key].(map[string]any); ok {
				return view.Record(nested)
			}
		}
		return view.Record(m)
	}
	return view.Record{}
}

// fetchAll walks every page of a list endpoint and returns the full data set.
// Rows are de-duplicated by id so servers that ignore the page parameter
// terminate after the first repeated page.
func (c *Client) fetchAll(ctx context.Context, op, path string, filters url.Values) ([]view.Record, error) {
	var all []view.Record
	seen := make(map[string]struct{})
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		for k, vs := range filters {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(c.pageLimit))

		doc, err := c.call(ctx, op, http.MethodGet, path, q, nil)
		if err != nil {
			return nil, err
		}
		rows, meta := extractRecords(doc)
		added := 0
		for _, r := range rows {
			if id := r.ID(); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			all = append(all, r)
			added++
		}
		if added == 0 || len(rows) < c.pageLimit || (meta.Known && len(all) >= meta.Total) {
			break
		}
	}
	if all == nil {
		all = []view.Record{}
	}
	c.logger.Debug().Str("op", op).Int("records", len(all)).Msg("upstream_fetch_all")
	return all, nil
}
