package view_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/view"
)

func TestBuildComparator(t *testing.T) {
	a := view.Record{"firstName": "amy", "lastName": "Young", "email": "B@x.io", "price": 12.5, "isDeleted": true}
	b := view.Record{"name": "Bob Zed", "email": "a@x.io", "price": 9, "isDeleted": false}

	byName := view.BuildComparator(view.SortState{Column: "name", Order: view.OrderAscend}, view.Schema{})
	require.Negative(t, byName(a, b))

	byEmail := view.BuildComparator(view.SortState{Column: "email", Order: view.OrderAscend}, view.Schema{})
	require.Positive(t, byEmail(a, b))

	byPriceDesc := view.BuildComparator(view.SortState{Column: "price", Order: view.OrderDescend}, view.Schema{})
	require.Negative(t, byPriceDesc(a, b))

	byStatus := view.BuildComparator(view.SortState{Column: "status", Order: view.OrderAscend}, view.Schema{})
	require.Negative(t, byStatus(a, b))

	byDeleted := view.BuildComparator(view.SortState{Column: "isDeleted", Order: view.OrderAscend}, view.Schema{})
	require.Positive(t, byDeleted(a, b))

	none := view.BuildComparator(view.SortState{Column: "name"}, view.Schema{})
	require.Zero(t, none(a, b))
	require.Zero(t, byName(a, a))
}

func TestBuildComparatorMissingFields(t *testing.T) {
	cmp := view.BuildComparator(view.SortState{Column: "email", Order: view.OrderAscend}, view.Schema{})
	require.Negative(t, cmp(view.Record{}, view.Record{"email": "a@x.io"}))
	require.Zero(t, cmp(nil, view.Record{}))
}

func TestParseOrder(t *testing.T) {
	for raw, want := range map[string]view.Order{"": view.OrderNone, "asc": view.OrderAscend, "ASCEND": view.OrderAscend, "desc": view.OrderDescend, "descend": view.OrderDescend} {
		got, err := view.ParseOrder(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := view.ParseOrder("sideways")
	require.ErrorIs(t, err, view.ErrUnknownOrder)
}

func TestBuildComparatorTotalOrderOnMixedColumn(t *testing.T) {
	fixture := []view.Record{
		{"id": "a", "plan": 10},
		{"id": "b", "plan": 9},
		{"id": "c", "plan": "5a"},
		{"id": "d", "plan": "Basic"},
		{"id": "e"},
		{"id": "f", "plan": true},
	}
	for _, order := range []view.Order{view.OrderAscend, view.OrderDescend} {
		q := view.Query{Sort: view.SortState{Column: "plan", Order: order}, Page: 1, PageSize: len(fixture)}
		var want []string
		permute(fixture, func(p []view.Record) {
			var got []string
			for _, r := range view.Compute(p, q, view.Schema{}).Records {
				got = append(got, r.ID())
			}
			if want == nil {
				want = got
			}
			require.Equal(t, want, got, "order %s", order)
		})
		if order == view.OrderAscend {
			require.Equal(t, []string{"e", "f", "b", "a", "c", "d"}, want)
		}
	}
}

// permute calls fn with every ordering of recs (Heap's algorithm).
func permute(recs []view.Record, fn func([]view.Record)) {
	p := append([]view.Record(nil), recs...)
	var gen func(k int)
	gen = func(k int) {
		if k <= 1 {
			fn(append([]view.Record(nil), p...))
			return
		}
		for i := 0; i < k-1; i++ {
			gen(k - 1)
			if k%2 == 0 {
				p[i], p[k-1] = p[k-1], p[i]
			} else {
				p[0], p[k-1] = p[k-1], p[0]
			}
		}
		gen(k - 1)
	}
	gen(len(p))
}
