package catalog

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esim-admin/internal/cache"
	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/events"
	"github.com/noah-isme/esim-admin/internal/lock"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/pricing"
	"github.com/noah-isme/esim-admin/internal/upstream"
)

// BulkFilter selects packages for a bulk price change. Empty strings and
// nulls leave a constraint unset.
type BulkFilter struct {
	Country   *string  `json:"country" validate:"omitempty,max=100"`
	Region    *string  `json:"region" validate:"omitempty,max=100"`
	Unlimited *bool    `json:"unlimited"`
	FixedCost *float64 `json:"fixedCost" validate:"omitempty,gte=0"`
}

// BulkRequest is the body of the preview and apply endpoints.
type BulkRequest struct {
	Filter      BulkFilter         `json:"filter"`
	UpdateType  pricing.UpdateType `json:"updateType" validate:"required"`
	UpdateValue float64            `json:"updateValue"`
}

func (r BulkRequest) filter() pricing.PackageFilter {
	return pricing.PackageFilter{
		Country:   nonBlank(r.Filter.Country),
		Region:    nonBlank(r.Filter.Region),
		Unlimited: r.Filter.Unlimited,
		FixedCost: r.Filter.FixedCost,
	}
}

func (r BulkRequest) adjustment() pricing.Adjustment {
	return pricing.Adjustment{Type: pricing.UpdateType(strings.ToLower(strings.TrimSpace(string(r.UpdateType)))), Value: r.UpdateValue}
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

// Preview is the calculator result shown before applying.
type Preview struct {
	Updates []pricing.Update `json:"updates"`
	Summary pricing.Summary  `json:"summary"`
}

// Failure is a package whose price write was rejected.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ApplyResult reports the outcome of a bulk apply.
type ApplyResult struct {
	Summary pricing.Summary `json:"summary"`
	Applied int             `json:"applied"`
	Failed  []Failure       `json:"failed"`
}

// Preview computes the price changes without writing anything.
func (s *Service) Preview(ctx context.Context, req BulkRequest, refresh bool) (Preview, error) {
	updates, err := s.compute(ctx, req, refresh)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Updates: updates, Summary: pricing.Summarize(updates)}, nil
}

// Apply writes new prices for every selected package. Only one apply runs
// at a time; a concurrent call fails with 409. Prices are computed from a
// fresh fetch so a stale preview is never written back.
func (s *Service) Apply(ctx context.Context, req BulkRequest) (ApplyResult, error) {
	if err := req.adjustment().Validate(); err != nil {
		obs.CountBulkPrice("sync", "invalid", 0, 0)
		return ApplyResult{}, invalidAdjustment(err)
	}
	if s.locker == nil {
		return ApplyResult{}, errors.New("catalog: locker not configured")
	}
	var res ApplyResult
	err := s.locker.TryLock(ctx, cache.KeyBulkPriceLock(), s.lockTTL, func(ctx context.Context) error {
		var err error
		res, err = s.applyLocked(ctx, req, "sync")
		return err
	})
	if errors.Is(err, lock.ErrLocked) {
		obs.CountBulkPrice("sync", "conflict", 0, 0)
		return ApplyResult{}, common.NewAppError("CONFLICT", "a bulk price update is already running", http.StatusConflict, err)
	}
	return res, err
}

// applyLocked computes and writes new prices. The caller holds the bulk
// price lock.
func (s *Service) applyLocked(ctx context.Context, req BulkRequest, mode string) (ApplyResult, error) {
	updates, err := s.compute(ctx, req, true)
	if err != nil {
		obs.CountBulkPrice(mode, "error", 0, 0)
		return ApplyResult{}, err
	}
	res, firstErr := s.write(ctx, updates)
	res.Summary = pricing.Summarize(updates)

	if res.Applied > 0 {
		s.records.Invalidate(ctx, upstream.SourcePackages)
		s.emitApplied(ctx, req, res)
	}
	obs.CountBulkPrice(mode, outcome(res), res.Applied, len(res.Failed))
	if res.Applied == 0 && len(res.Failed) > 0 {
		return res, upstream.ToAppError(firstErr)
	}
	return res, nil
}

func (s *Service) compute(ctx context.Context, req BulkRequest, refresh bool) ([]pricing.Update, error) {
	adj := req.adjustment()
	if err := adj.Validate(); err != nil {
		return nil, invalidAdjustment(err)
	}
	snap, _, err := s.records.Get(ctx, upstream.SourcePackages, refresh)
	if err != nil {
		return nil, upstream.ToAppError(err)
	}
	updates, err := pricing.ComputeBulkUpdate(pricing.PackagesFromRecords(snap.Records), req.filter(), adj)
	if err != nil {
		return nil, invalidAdjustment(err)
	}
	return updates, nil
}

// write issues one price update per package with bounded parallelism. A
// failed write does not stop the others.
func (s *Service) write(ctx context.Context, updates []pricing.Update) (ApplyResult, error) {
	errs := make([]error, len(updates))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, u := range updates {
		if u.Package.ID == "" {
			errs[i] = errors.New("package has no id")
			continue
		}
		g.Go(func() error {
			errs[i] = s.api.UpdatePackagePrice(ctx, u.Package.ID, u.NewPrice)
			return nil
		})
	}
	_ = g.Wait()

	res := ApplyResult{Failed: []Failure{}}
	var firstErr error
	for i, err := range errs {
		if err == nil {
			res.Applied++
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		res.Failed = append(res.Failed, Failure{ID: updates[i].Package.ID, Error: err.Error()})
		s.logger.Warn().Err(err).Str("package_id", updates[i].Package.ID).Msg("bulk_price_write_failed")
	}
	return res, firstErr
}

func (s *Service) emitApplied(ctx context.Context, req BulkRequest, res ApplyResult) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"updateType":  req.adjustment().Type,
		"updateValue": req.UpdateValue,
		"filter":      req.filter(),
		"applied":     res.Applied,
		"failed":      len(res.Failed),
		"summary":     res.Summary,
	}
	actor, ok := common.UserID(ctx)
	if !ok || actor == "" {
		actor = "system"
	}
	if _, err := s.events.Emit(ctx, events.TopicBulkPriceApplied, actor, payload); err != nil {
		s.logger.Warn().Err(err).Msg("bulk_price_event_failed")
	}
}

func outcome(res ApplyResult) string {
	switch {
	case len(res.Failed) == 0:
		return "ok"
	case res.Applied == 0:
		return "error"
	default:
		return "partial"
	}
}

func invalidAdjustment(err error) error {
	return common.NewAppError("INVALID_ADJUSTMENT", err.Error(), http.StatusBadRequest, err)
}
