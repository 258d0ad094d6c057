package view_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/view"
)

func TestStateResetsPageOnFilterOrSortChange(t *testing.T) {
	s := view.NewState(10)
	s.SetPage(4)
	require.Equal(t, 4, s.Query().Page)

	s.SetFilter(view.FilterState{Search: "bob"})
	require.Equal(t, 1, s.Query().Page)

	s.SetPage(3)
	s.SetSort(view.SortState{Column: "email", Order: view.OrderDescend})
	require.Equal(t, 1, s.Query().Page)

	s.SetPage(2)
	s.SetPageSize(50)
	require.Equal(t, 2, s.Query().Page)
	require.Equal(t, 50, s.Query().PageSize)
}

func TestQueryResetIfChanged(t *testing.T) {
	q := view.Query{Filter: view.FilterState{Search: "bob"}, Page: 3, PageSize: 10}

	require.Equal(t, 3, q.ResetIfChanged("").Page)
	require.Equal(t, 3, q.ResetIfChanged(q.Fingerprint()).Page)

	other := q
	other.Sort = view.SortState{Column: "name", Order: view.OrderAscend}
	require.NotEqual(t, q.Fingerprint(), other.Fingerprint())
	require.Equal(t, 1, other.ResetIfChanged(q.Fingerprint()).Page)

	paged := q
	paged.Page = 7
	require.Equal(t, q.Fingerprint(), paged.Fingerprint())
}
