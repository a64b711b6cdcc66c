// Package cycle runs one reconciliation pass: fetch warnings for every
// configured region, track new events in the state store, and dispatch
// pending notifications to the webhook.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/config"
	"alertbridge/internal/events"
	"alertbridge/internal/health"
	"alertbridge/internal/logger"
	"alertbridge/internal/metrics"
	"alertbridge/internal/notify"
	"alertbridge/internal/state"
	"alertbridge/internal/weather"
)

// compactDate is the YYYYMMDD layout the upstream feed expects.
const compactDate = "20060102"

// missingFetchResult is the synthesized error code for a region that
// produced neither events nor an error, which can only happen when the
// fetch phase was cut short.
const missingFetchResult = "missing_area_fetch_result"

// Stats summarizes one completed cycle. ErrorCounts histograms fetch
// failures by classified error code; LastError holds the most recent
// one as the cycle's representative error.
type Stats struct {
	StartDate            string
	EndDate              string
	AreaCount            int
	AreasProcessed       int
	AreaFailures         int
	AlertsFetched        int
	APIFetchCalls        int
	NewlyTracked         int
	NotificationAttempts int
	SentCount            int
	SendFailures         int
	DryRunSkips          int
	BackpressureSkips    int
	PendingTotal         int
	ErrorCounts          map[string]int
	LastError            string
}

// Outcome converts the cycle result into the health monitor's input.
func (s Stats) Outcome() health.Outcome {
	return health.Outcome{
		TotalAreas:          s.AreaCount,
		FailedAreas:         s.AreaFailures,
		ErrorCounts:         s.ErrorCounts,
		RepresentativeError: s.LastError,
	}
}

// Processor owns the fetch-track-dispatch pipeline. It is driven from a
// single goroutine; the rotating dispatch offset is not locked.
type Processor struct {
	cfg      *config.Config
	fetcher  weather.Fetcher
	notifier notify.Notifier
	store    state.Store
	metrics  *metrics.Metrics
	clk      clock.Clock
	log      *logger.Logger

	// dispatchOffset rotates the region processing order so one
	// chronically noisy region cannot starve the others of the
	// per-cycle attempt budget.
	dispatchOffset int
}

// NewProcessor wires the pipeline components together.
func NewProcessor(cfg *config.Config, fetcher weather.Fetcher, notifier notify.Notifier, store state.Store, m *metrics.Metrics, clk clock.Clock, log *logger.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		fetcher:  fetcher,
		notifier: notifier,
		store:    store,
		metrics:  m,
		clk:      clk,
		log:      log.WithModule("cycle"),
	}
}

// RunOnce executes one cycle over the standard window: lookback days
// before today through tomorrow, in the configured timezone.
func (p *Processor) RunOnce(ctx context.Context) (Stats, error) {
	now := p.clk.Now().In(p.cfg.Location())
	startDate := now.AddDate(0, 0, -p.cfg.LookbackDays).Format(compactDate)
	endDate := now.AddDate(0, 0, 1).Format(compactDate)
	return p.run(ctx, startDate, endDate)
}

// RunDateRange executes one cycle over an explicit date window, used by
// recovery backfill. The range must be well-formed and non-empty.
func (p *Processor) RunDateRange(ctx context.Context, startDate, endDate string) (Stats, error) {
	if _, err := time.Parse(compactDate, startDate); err != nil {
		return Stats{}, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	if _, err := time.Parse(compactDate, endDate); err != nil {
		return Stats{}, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if startDate >= endDate {
		return Stats{}, fmt.Errorf("start date %s must precede end date %s", startDate, endDate)
	}
	return p.run(ctx, startDate, endDate)
}

type fetchResult struct {
	alerts []alert.WarningEvent
	err    error
}

func (p *Processor) run(ctx context.Context, startDate, endDate string) (Stats, error) {
	areas := p.areasForCycle()
	stats := Stats{
		StartDate:   startDate,
		EndDate:     endDate,
		AreaCount:   len(areas),
		ErrorCounts: map[string]int{},
	}

	p.log.Event(events.CycleStart,
		"start_date", startDate,
		"end_date", endDate,
		"area_count", len(areas))

	results := p.fetchAll(ctx, &stats, startDate, endDate, areas)

	var delivered []sentRecord
	var loopErr error
	for _, code := range areas {
		p.log.Event(events.AreaStart, "area_code", code)

		res, ok := results[code]
		if !ok {
			res = fetchResult{err: errors.New(missingFetchResult)}
		}
		if res.err != nil {
			p.recordAreaFailure(&stats, code, res)
			continue
		}

		stats.AreasProcessed++
		stats.AlertsFetched += len(res.alerts)
		p.metrics.RecordAlertsFetched(len(res.alerts))

		if err := p.track(&stats, code, res.alerts); err != nil {
			loopErr = err
			break
		}
		recs, err := p.dispatch(ctx, &stats, code)
		delivered = append(delivered, recs...)
		if err != nil {
			loopErr = err
			break
		}
	}

	// Settle even when a region aborted the loop, so already delivered
	// messages are never re-sent next cycle.
	if err := p.settle(&stats, delivered); err != nil && loopErr == nil {
		loopErr = err
	}
	if loopErr != nil {
		return stats, loopErr
	}

	total, err := p.store.TotalCount()
	if err != nil {
		return stats, fmt.Errorf("count tracked notifications: %w", err)
	}
	pending, err := p.store.PendingCount()
	if err != nil {
		return stats, fmt.Errorf("count pending notifications: %w", err)
	}
	stats.PendingTotal = pending
	p.metrics.SetStoreCounts(total, pending)

	return stats, nil
}

// areasForCycle returns the configured regions rotated by the dispatch
// offset, advancing the offset for the next cycle.
func (p *Processor) areasForCycle() []string {
	codes := p.cfg.AreaCodes
	if len(codes) == 0 {
		return nil
	}
	offset := p.dispatchOffset % len(codes)
	p.dispatchOffset = (p.dispatchOffset + 1) % len(codes)

	rotated := make([]string, 0, len(codes))
	rotated = append(rotated, codes[offset:]...)
	rotated = append(rotated, codes[:offset]...)
	return rotated
}

// fetchAll collects the per-region fetch results. Sequential mode paces
// regions with the configured inter-region delay; parallel mode gives
// each in-flight region a worker client of its own.
func (p *Processor) fetchAll(ctx context.Context, stats *Stats, startDate, endDate string, areas []string) map[string]fetchResult {
	results := make(map[string]fetchResult, len(areas))

	if p.cfg.AreaMaxWorkers > 1 && len(areas) > 1 {
		workers := min(p.cfg.AreaMaxWorkers, len(areas))
		p.log.Event(events.CycleParallelFetch, "workers", workers, "area_count", len(areas))
		if p.cfg.AreaInterval > 0 {
			p.log.Event(events.CycleAreaIntervalIgnored, "reason", "parallel_fetch_enabled")
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, code := range areas {
			code := code
			g.Go(func() error {
				worker := p.fetcher.NewWorkerClient()
				defer worker.Close()
				res := p.fetchArea(gctx, worker, code, startDate, endDate)
				mu.Lock()
				stats.APIFetchCalls++
				results[code] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i, code := range areas {
		stats.APIFetchCalls++
		results[code] = p.fetchArea(ctx, p.fetcher, code, startDate, endDate)
		if i < len(areas)-1 && p.cfg.AreaInterval > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(p.cfg.AreaInterval):
			}
		}
	}
	return results
}

func (p *Processor) fetchArea(ctx context.Context, fetcher weather.Fetcher, code, startDate, endDate string) fetchResult {
	began := time.Now()
	alerts, err := fetcher.FetchAlerts(ctx, code, p.cfg.RegionName(code), startDate, endDate)
	elapsed := time.Since(began).Seconds()

	if err != nil {
		p.metrics.RecordFetch("error", elapsed)
		return fetchResult{err: err}
	}
	p.metrics.RecordFetch("success", elapsed)
	return fetchResult{alerts: alerts}
}

func (p *Processor) recordAreaFailure(stats *Stats, code string, res fetchResult) {
	errorCode := weather.KindOf(res.err)
	if res.err.Error() == missingFetchResult {
		errorCode = missingFetchResult
	}

	stats.AreaFailures++
	stats.ErrorCounts[errorCode]++
	stats.LastError = errorCode
	p.metrics.RecordFetchError(errorCode)

	p.log.WithError(res.err).EventError(events.AreaFailed,
		"area_code", code,
		"error_code", errorCode)
}

// track renders the fetched events and upserts them into the store.
func (p *Processor) track(stats *Stats, code string, alerts []alert.WarningEvent) error {
	if len(alerts) == 0 {
		return nil
	}

	notifications := make([]alert.Notification, 0, len(alerts))
	for _, event := range alerts {
		n := alert.BuildNotification(event)
		if n.URLValidationError != "" {
			p.log.EventWarn(events.NotificationURLAttachmentBlocked,
				"event_id", n.EventID,
				"area_code", code,
				"reason", n.URLValidationError)
		}
		notifications = append(notifications, n)
	}

	added, err := p.store.Upsert(notifications)
	if err != nil {
		return fmt.Errorf("track notifications for %s: %w", code, err)
	}
	stats.NewlyTracked += added
	return nil
}

// sentRecord is one successfully delivered notification awaiting the
// cycle-wide settle.
type sentRecord struct {
	eventID  string
	areaCode string
}

// dispatch delivers the region's pending notifications, honoring the
// per-cycle attempt budget and the dry-run flag. Delivered records are
// returned for the single settle pass at the end of the cycle.
func (p *Processor) dispatch(ctx context.Context, stats *Stats, code string) ([]sentRecord, error) {
	pending, err := p.store.ListPending(code)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications for %s: %w", code, err)
	}

	var delivered []sentRecord
	for i, row := range pending {
		if p.cfg.MaxAttemptsPerCycle > 0 && stats.NotificationAttempts >= p.cfg.MaxAttemptsPerCycle {
			skipped := len(pending) - i
			stats.BackpressureSkips += skipped
			for n := 0; n < skipped; n++ {
				p.metrics.RecordNotification("backpressure_skipped")
			}
			p.log.EventWarn(events.NotificationBackpressureApplied,
				"area_code", code,
				"skipped", skipped,
				"max_attempts_per_cycle", p.cfg.MaxAttemptsPerCycle)
			break
		}
		stats.NotificationAttempts++

		if p.cfg.DryRun {
			stats.DryRunSkips++
			p.metrics.RecordNotification("dry_run")
			p.log.Event(events.NotificationDryRun,
				"event_id", row.EventID,
				"area_code", code)
			continue
		}

		began := time.Now()
		sendErr := p.notifier.Send(ctx, row.Message, row.ReportURL)
		p.metrics.RecordNotificationDuration(time.Since(began).Seconds())

		if sendErr != nil {
			stats.SendFailures++
			p.metrics.RecordNotification("failed")
			p.log.WithError(sendErr).EventError(events.NotificationFinalFailure,
				"event_id", row.EventID,
				"area_code", code,
				"error_code", notify.KindOf(sendErr))
			continue
		}
		delivered = append(delivered, sentRecord{eventID: row.EventID, areaCode: code})
	}
	return delivered, nil
}

// settle flags every delivered notification as sent in one batched
// store write.
func (p *Processor) settle(stats *Stats, delivered []sentRecord) error {
	if len(delivered) == 0 {
		return nil
	}

	ids := make([]string, len(delivered))
	for i, rec := range delivered {
		ids[i] = rec.eventID
	}
	if _, err := p.store.MarkSent(ids); err != nil {
		return fmt.Errorf("mark notifications sent: %w", err)
	}

	stats.SentCount += len(delivered)
	for _, rec := range delivered {
		p.metrics.RecordNotification("sent")
		p.log.Event(events.NotificationSent,
			"event_id", rec.eventID,
			"area_code", rec.areaCode)
	}
	return nil
}
