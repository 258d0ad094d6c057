package listing

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/view"
)

// HeaderPrevious carries the fingerprint of the filter and sort the client
// rendered last. HeaderFingerprint returns the current one.
const (
	HeaderPrevious    = "X-View-Previous"
	HeaderFingerprint = "X-View-Fingerprint"
)

// Limits bounds page sizes.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (l Limits) normalize() Limits {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = 10
	}
	if l.MaxPageSize < l.DefaultPageSize {
		l.MaxPageSize = l.DefaultPageSize
	}
	return l
}

// ParseQuery reads search, status, sort, order, page and pageSize. A sort
// column without an order sorts ascending. When HeaderPrevious names another
// filter or sort the page is reset to 1.
func ParseQuery(r *http.Request, limits Limits, schema view.Schema) (view.Query, error) {
	limits = limits.normalize()
	q := r.URL.Query()

	status, err := view.ParseStatus(q.Get("status"))
	if err != nil {
		return view.Query{}, common.BadRequest("status", "status must be one of all, active, inactive", err)
	}
	order, err := view.ParseOrder(q.Get("order"))
	if err != nil {
		return view.Query{}, common.BadRequest("order", "order must be one of asc, desc", err)
	}
	column := strings.TrimSpace(q.Get("sort"))
	if column != "" && !schema.Sortable(column) {
		return view.Query{}, common.BadRequest("sort", "column is not sortable", nil)
	}
	if column != "" && order == view.OrderNone && q.Get("order") == "" {
		order = view.OrderAscend
	}

	page, err := positive(q, "page", 1)
	if err != nil {
		return view.Query{}, err
	}
	size, err := positive(q, "pageSize", limits.DefaultPageSize)
	if err != nil {
		return view.Query{}, err
	}
	if size > limits.MaxPageSize {
		size = limits.MaxPageSize
	}

	query := view.Query{
		Filter:   view.FilterState{Search: strings.TrimSpace(q.Get("search")), Status: status},
		Sort:     view.SortState{Column: column, Order: order},
		Page:     page,
		PageSize: size,
	}
	return query.ResetIfChanged(r.Header.Get(HeaderPrevious)), nil
}

var errNotPositive = errors.New("must be a positive integer")

func positive(q map[string][]string, name string, fallback int) (int, error) {
	values := q[name]
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil || n <= 0 {
		if err == nil {
			err = errNotPositive
		}
		return 0, common.BadRequest(name, name+" must be a positive integer", err)
	}
	return n, nil
}

// Refresh reports whether the caller asked to bypass cached records.
func Refresh(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return ok
}
