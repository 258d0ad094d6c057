package view_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esim-admin/internal/view"
)

func TestBuildPredicateIdentity(t *testing.T) {
	keep := view.BuildPredicate(view.FilterState{}, view.Schema{})
	for _, r := range append(sampleUsers(), view.Record{}, nil) {
		require.True(t, keep(r))
	}
}

func TestBuildPredicateSearchFields(t *testing.T) {
	records := []view.Record{
		{"id": "1", "firstName": "Siti", "lastName": "Rahma"},
		{"id": "2", "email": "OPS@Example.com"},
		{"id": "3", "phone": "+62 811 000"},
		{"id": "4", "passport": "X1234"},
		{"id": "5", "email": 42, "phone": nil},
	}
	cases := []struct {
		term   string
		schema view.Schema
		want   []string
	}{
		{term: "siti rah", want: []string{"1"}},
		{term: "ops@", want: []string{"2"}},
		{term: "811", want: []string{"3"}},
		{term: "x12", want: nil},
		{term: "x12", schema: view.Schema{SearchFields: []string{"passport"}}, want: []string{"4"}},
		{term: "42", want: []string{"5"}},
	}
	for _, tc := range cases {
		t.Run(tc.term, func(t *testing.T) {
			keep := view.BuildPredicate(view.FilterState{Search: tc.term}, tc.schema)
			var got []string
			for _, r := range records {
				if keep(r) {
					got = append(got, r.ID())
				}
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestBuildPredicateStatus(t *testing.T) {
	active := view.BuildPredicate(view.FilterState{Status: view.StatusActive}, view.Schema{})
	inactive := view.BuildPredicate(view.FilterState{Status: view.StatusInactive}, view.Schema{})

	require.True(t, active(view.Record{"isDeleted": false}))
	require.True(t, active(view.Record{}))
	require.False(t, active(view.Record{"isDeleted": true}))
	require.True(t, inactive(view.Record{"isDeleted": "true"}))
	require.False(t, inactive(view.Record{}))

	pkgSchema := view.Schema{ActiveField: "isActive"}
	activePkg := view.BuildPredicate(view.FilterState{Status: view.StatusActive}, pkgSchema)
	require.True(t, activePkg(view.Record{"isActive": true}))
	require.False(t, activePkg(view.Record{}))
}

func TestBuildPredicateCombinesWithAnd(t *testing.T) {
	keep := view.BuildPredicate(view.FilterState{Search: "amy", Status: view.StatusActive}, view.Schema{})
	for _, r := range sampleUsers() {
		require.False(t, keep(r))
	}
}

func TestParseStatus(t *testing.T) {
	for raw, want := range map[string]view.StatusFilter{"": view.StatusAny, "all": view.StatusAny, " Active ": view.StatusActive, "INACTIVE": view.StatusInactive} {
		got, err := view.ParseStatus(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := view.ParseStatus("archived")
	require.ErrorIs(t, err, view.ErrUnknownStatus)
}
