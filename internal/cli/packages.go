package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/esim-admin/internal/pricing"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

type previewFlags struct {
	country    string
	region     string
	unlimited  bool
	fixedCost  float64
	updateType string
	value      float64
}

// PreviewResult is the machine readable preview output.
type PreviewResult struct {
	Updates []pricing.Update `json:"updates"`
	Summary pricing.Summary  `json:"summary"`
}

func (a *App) packagesCmd() *cobra.Command {
	cmd := a.resourceCmd(upstream.SourcePackages, "eSIM catalogue packages")
	cmd.AddCommand(a.previewCmd())
	return cmd
}

func (a *App) previewCmd() *cobra.Command {
	var f previewFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview a bulk price change without applying it",
		Example: `  adminctl packages preview --region Europe --type percentage --value 10
  adminctl packages preview --country PK --unlimited --type fixed --value 2.5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := pricing.PackageFilter{}
			if v := strings.TrimSpace(f.country); v != "" {
				filter.Country = &v
			}
			if v := strings.TrimSpace(f.region); v != "" {
				filter.Region = &v
			}
			if cmd.Flags().Changed("unlimited") {
				filter.Unlimited = &f.unlimited
			}
			if cmd.Flags().Changed("fixed-cost") {
				filter.FixedCost = &f.fixedCost
			}
			adj := pricing.Adjustment{Type: pricing.UpdateType(strings.ToLower(strings.TrimSpace(f.updateType))), Value: f.value}
			if err := adj.Validate(); err != nil {
				return err
			}
			return a.runPreview(cmd, filter, adj)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.country, "country", "", "only packages covering this country")
	flags.StringVar(&f.region, "region", "", "only packages in this region")
	flags.BoolVar(&f.unlimited, "unlimited", false, "only unlimited (or, with =false, limited) data packages")
	flags.Float64Var(&f.fixedCost, "fixed-cost", 0, "only packages currently priced at this amount")
	flags.StringVar(&f.updateType, "type", "", "adjustment type: percentage or fixed")
	flags.Float64Var(&f.value, "value", 0, "adjustment value, must be positive")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func (a *App) runPreview(cmd *cobra.Command, filter pricing.PackageFilter, adj pricing.Adjustment) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	rows, err := client.ListPackages(cmd.Context(), nil)
	if err != nil {
		return err
	}
	updates, err := pricing.ComputeBulkUpdate(pricing.PackagesFromRecords(rows), filter, adj)
	if err != nil {
		return err
	}
	res := PreviewResult{Updates: updates, Summary: pricing.Summarize(updates)}
	return a.render(res, previewTable(res))
}

func previewTable(res PreviewResult) Table {
	t := Table{Header: []string{"ID", "NAME", "REGION", "OLD PRICE", "NEW PRICE"}}
	for _, u := range res.Updates {
		t.Rows = append(t.Rows, []string{
			u.Package.ID,
			u.Package.Name,
			u.Package.Region,
			money(u.OldPrice),
			money(u.NewPrice),
		})
	}
	s := res.Summary
	t.Footer = fmt.Sprintf("%d packages, total %s -> %s (%+.2f)", s.Count, money(s.OldTotal), money(s.NewTotal), s.Delta)
	return t
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
