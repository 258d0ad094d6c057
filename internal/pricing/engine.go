package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAdjustment is returned when an adjustment cannot be applied.
var ErrInvalidAdjustment = errors.New("invalid price adjustment")

// UpdateType selects how an adjustment value is applied to a price.
type UpdateType string

const (
	// UpdatePercentage scales the price by value percent.
	UpdatePercentage UpdateType = "percentage"
	// UpdateFixed adds value to the price.
	UpdateFixed UpdateType = "fixed"
)

// Adjustment is a bulk price change.
type Adjustment struct {
	Type  UpdateType `json:"updateType"`
	Value float64    `json:"updateValue"`
}

// Validate rejects non-positive, non-finite values and unknown types.
func (a Adjustment) Validate() error {
	switch a.Type {
	case UpdatePercentage, UpdateFixed:
	default:
		return fmt.Errorf("%w: unknown update type %q", ErrInvalidAdjustment, a.Type)
	}
	if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
		return fmt.Errorf("%w: value must be a finite number", ErrInvalidAdjustment)
	}
	if a.Value <= 0 {
		return fmt.Errorf("%w: value must be greater than zero", ErrInvalidAdjustment)
	}
	return nil
}

// PackageFilter selects packages for a bulk update. Nil fields are ignored,
// so the zero filter selects every package.
type PackageFilter struct {
	Country   *string  `json:"country,omitempty"`
	Region    *string  `json:"region,omitempty"`
	Unlimited *bool    `json:"unlimited,omitempty"`
	FixedCost *float64 `json:"fixedCost,omitempty"`
}

// Empty reports whether no constraint is set.
func (f PackageFilter) Empty() bool {
	return f.Country == nil && f.Region == nil && f.Unlimited == nil && f.FixedCost == nil
}

// Matches reports whether p satisfies every set constraint.
func (f PackageFilter) Matches(p Package) bool {
	if f.Country != nil && !p.HasCountry(*f.Country) {
		return false
	}
	if f.Region != nil && !strings.EqualFold(strings.TrimSpace(p.Region), strings.TrimSpace(*f.Region)) {
		return false
	}
	if f.Unlimited != nil && p.Unlimited() != *f.Unlimited {
		return false
	}
	if f.FixedCost != nil && p.Price != *f.FixedCost {
		return false
	}
	return true
}

// Update is the preview of a single package after adjustment. Package
// carries the new price; every other field is unchanged.
type Update struct {
	Package  Package `json:"package"`
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

// ComputeBulkUpdate returns one Update per package selected by filter, in
// input order. Packages outside the filter are not returned.
func ComputeBulkUpdate(packages []Package, filter PackageFilter, adj Adjustment) ([]Update, error) {
	if err := adj.Validate(); err != nil {
		return nil, err
	}
	updates := make([]Update, 0, len(packages))
	for _, p := range packages {
		if !filter.Matches(p) {
			continue
		}
		next := p
		next.Price = applyAdjustment(p.Price, adj)
		updates = append(updates, Update{Package: next, OldPrice: p.Price, NewPrice: next.Price})
	}
	return updates, nil
}

// applyAdjustment clamps at zero and rounds to cents.
func applyAdjustment(price float64, adj Adjustment) float64 {
	var next float64
	switch adj.Type {
	case UpdatePercentage:
		next = price * (1 + adj.Value/100)
	case UpdateFixed:
		next = price + adj.Value
	default:
		next = price
	}
	if next < 0 || math.IsNaN(next) {
		next = 0
	}
	return Round2(next)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summary aggregates a bulk update preview.
type Summary struct {
	Count    int     `json:"count"`
	OldTotal float64 `json:"oldTotal"`
	NewTotal float64 `json:"newTotal"`
	Delta    float64 `json:"delta"`
}

// Summarize totals the old and new prices of updates.
func Summarize(updates []Update) Summary {
	var s Summary
	for _, u := range updates {
		s.Count++
		s.OldTotal += u.OldPrice
		s.NewTotal += u.NewPrice
	}
	s.OldTotal = Round2(s.OldTotal)
	s.NewTotal = Round2(s.NewTotal)
	s.Delta = Round2(s.NewTotal - s.OldTotal)
	return s
}
