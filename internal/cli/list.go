package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/esim-admin/internal/listing"
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// listColumns are the table columns per source.
var listColumns = map[upstream.Source][]string{
	upstream.SourceUsers:        {"id", "name", "email", "phone", "status"},
	upstream.SourcePackages:     {"id", "name", "region", "dataVolume", "price", "status"},
	upstream.SourceRefunds:      {"id", "orderId", "amount", "status", "reason"},
	upstream.SourceApplications: {"id", "companyName", "email", "status"},
	upstream.SourceOrders:       {"id", "orderNumber", "iccid", "amount", "status"},
}

type listFlags struct {
	search   string
	status   string
	sort     string
	order    string
	page     int
	pageSize int
	all      bool
}

// state replays the flags onto a fresh view.State. The page is applied last
// because changing the filter or sort returns to page one.
func (f listFlags) state(schema view.Schema) (*view.State, error) {
	q, err := f.query(schema)
	if err != nil {
		return nil, err
	}
	s := view.NewState(q.PageSize)
	s.SetFilter(q.Filter)
	s.SetSort(q.Sort)
	s.SetPage(q.Page)
	return s, nil
}

func (f listFlags) query(schema view.Schema) (view.Query, error) {
	status, err := view.ParseStatus(f.status)
	if err != nil {
		return view.Query{}, fmt.Errorf("--status: %w", err)
	}
	order, err := view.ParseOrder(f.order)
	if err != nil {
		return view.Query{}, fmt.Errorf("--order: %w", err)
	}
	column := strings.TrimSpace(f.sort)
	if column != "" && !schema.Sortable(column) {
		return view.Query{}, fmt.Errorf("--sort: column %q is not sortable", column)
	}
	if column != "" && order == view.OrderNone {
		order = view.OrderAscend
	}
	if f.page <= 0 || f.pageSize <= 0 {
		return view.Query{}, errors.New("--page and --page-size must be positive")
	}
	return view.Query{
		Filter:   view.FilterState{Search: strings.TrimSpace(f.search), Status: status},
		Sort:     view.SortState{Column: column, Order: order},
		Page:     f.page,
		PageSize: f.pageSize,
	}, nil
}

func (a *App) usersCmd() *cobra.Command {
	return a.resourceCmd(upstream.SourceUsers, "Admin dashboard users")
}

func (a *App) resourceCmd(source upstream.Source, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(source),
		Short: short,
	}
	cmd.AddCommand(a.listCmd(source))
	return cmd
}

func (a *App) listCmd(source upstream.Source) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s with search, status filter, sort and paging", source),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd, source, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.search, "search", "", "case-insensitive search over name, email, phone and source fields")
	flags.StringVar(&f.status, "status", "", "status filter: all, active or inactive")
	flags.StringVar(&f.sort, "sort", "", "column to sort by")
	flags.StringVar(&f.order, "order", "", "sort order: asc or desc")
	flags.IntVar(&f.page, "page", 1, "page number")
	flags.IntVar(&f.pageSize, "page-size", 10, "records per page")
	flags.BoolVar(&f.all, "all", false, "walk every page from --page on and print them together")
	return cmd
}

func (a *App) runList(cmd *cobra.Command, source upstream.Source, f listFlags) error {
	schema := listing.DefaultSchemas[source]
	st, err := f.state(schema)
	if err != nil {
		return err
	}
	client, err := a.client()
	if err != nil {
		return err
	}
	rows, err := client.List(cmd.Context(), source)
	if err != nil {
		return err
	}
	v := view.Compute(rows, st.Query(), schema)
	if f.all {
		v = walkPages(rows, st, schema, v)
	}
	return a.render(v, recordTable(v, listColumns[source], schema))
}

// walkPages appends every page after first to it. The pagination reports
// the range that was walked.
func walkPages(rows []view.Record, st *view.State, schema view.Schema, first view.View) view.View {
	out := first
	out.Records = append([]view.Record(nil), first.Records...)
	for page := first.Pagination.Page + 1; page <= first.Pagination.Pages; page++ {
		st.SetPage(page)
		next := view.Compute(rows, st.Query(), schema)
		out.Records = append(out.Records, next.Records...)
	}
	out.Pagination.PageSize = max(len(out.Records), 1)
	return out
}

func recordTable(v view.View, columns []string, schema view.Schema) Table {
	t := Table{Header: make([]string, len(columns))}
	for i, c := range columns {
		t.Header[i] = strings.ToUpper(c)
	}
	for _, rec := range v.Records {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = cell(rec, c, schema)
		}
		t.Rows = append(t.Rows, row)
	}
	p := v.Pagination
	t.Footer = fmt.Sprintf("page %d of %d, %d total", p.Page, p.Pages, p.Total)
	return t
}

func cell(rec view.Record, column string, schema view.Schema) string {
	switch column {
	case "id":
		return rec.ID()
	case "name":
		return rec.FullName()
	case "status":
		if s := rec.String("status"); s != "" {
			return s
		}
		if schema.Inactive(rec) {
			return "inactive"
		}
		return "active"
	case "price", "amount":
		if n, ok := rec.Number(column); ok {
			return strconv.FormatFloat(n, 'f', 2, 64)
		}
	}
	return rec.String(column)
}
