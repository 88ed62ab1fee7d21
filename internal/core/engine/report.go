package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridlens/gridlens/internal/core"
)

// RewardFetcher is the slice of the API client the reporter depends on.
type RewardFetcher interface {
	GetRewardHistory(ctx context.Context, homeID, fromDate, toDate string, dailyResolution bool) (core.RewardPeriod, error)
}

// Reporter compiles grid reward totals for the standard reporting windows:
// current month, previous month, year to date, and current day. A failed
// period fetch degrades to an all-null period instead of failing the report,
// so one unavailable window never voids the others.
type Reporter struct {
	Client RewardFetcher
	HomeID string
	Logger *zap.Logger
	Clock  func() time.Time
}

// Compile fetches every reporting window concurrently and assembles the
// report. The currency is taken from the first window that carries one.
func (r *Reporter) Compile(ctx context.Context) (*core.RewardReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextMonthStart := monthStart.AddDate(0, 1, 0)
	prevMonthStart := monthStart.AddDate(0, -1, 0)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	report := &core.RewardReport{CompiledAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.CurrentMonth = r.fetchPeriod(gctx, "current_month", monthStart, nextMonthStart)
		return nil
	})
	g.Go(func() error {
		report.PreviousMonth = r.fetchPeriod(gctx, "previous_month", prevMonthStart, monthStart)
		return nil
	})
	g.Go(func() error {
		report.Year = r.fetchPeriod(gctx, "year", yearStart, nextMonthStart)
		return nil
	})
	_ = g.Wait()

	// The upstream ignores daily resolution, so current-day values mirror
	// the month-to-date window.
	report.CurrentDay = report.CurrentMonth

	report.Currency = firstCurrency(
		report.CurrentMonth,
		report.PreviousMonth,
		report.Year,
		report.CurrentDay,
	)
	return report, nil
}

func (r *Reporter) fetchPeriod(ctx context.Context, name string, from, to time.Time) core.RewardPeriod {
	period, err := r.Client.GetRewardHistory(ctx, r.HomeID, from.Format(time.RFC3339), to.Format(time.RFC3339), false)
	if err != nil {
		r.logger().Warn("failed to fetch reward period",
			zap.String("period", name),
			zap.Error(err))
		return core.RewardPeriod{}
	}
	return period
}

func firstCurrency(periods ...core.RewardPeriod) string {
	for _, p := range periods {
		if p.Currency != nil && *p.Currency != "" {
			return *p.Currency
		}
	}
	return "N/A"
}

// GroupDevicesByType buckets device IDs by type, keeping only the device
// types used for reward attribution.
func GroupDevicesByType(devices []core.Device) map[string][]string {
	known := make(map[string]struct{}, len(core.KnownDeviceTypes))
	for _, t := range core.KnownDeviceTypes {
		known[t] = struct{}{}
	}

	grouped := make(map[string][]string)
	for _, device := range devices {
		if device.ID == "" {
			continue
		}
		if _, ok := known[device.Type]; !ok {
			continue
		}
		grouped[device.Type] = append(grouped[device.Type], device.ID)
	}
	return grouped
}

func (r *Reporter) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *Reporter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
