// File: internal/intel/aggregator.go
package intel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/metrics"
)

// Aggregator schedules periodic syncs for every enabled source and folds the
// results into the store. One failing source never blocks the others.
type Aggregator struct {
	logger  *zap.Logger
	cfg     config.IntelConfig
	store   Store
	client  *http.Client
	limiter *rate.Limiter

	sources []schemas.SourceConfig
	wg      sync.WaitGroup
}

// NewAggregator wires the enabled sources against the store. The shared rate
// limiter bounds outbound feed traffic across all sources.
func NewAggregator(logger *zap.Logger, cfg config.IntelConfig, store Store) *Aggregator {
	var enabled []schemas.SourceConfig
	for _, src := range cfg.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2.0
	}

	return &Aggregator{
		logger:  logger.Named("intel"),
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		sources: enabled,
	}
}

// Sources returns the enabled source configurations.
func (a *Aggregator) Sources() []schemas.SourceConfig {
	return a.sources
}

// Run starts one scheduler goroutine per enabled source and blocks until ctx
// is cancelled. Each source syncs immediately, then on its own cadence.
func (a *Aggregator) Run(ctx context.Context) {
	for _, src := range a.sources {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.scheduleSource(ctx, src)
		}()
	}
	a.wg.Wait()
}

func (a *Aggregator) scheduleSource(ctx context.Context, src schemas.SourceConfig) {
	interval := time.Duration(src.SyncFrequencyMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.syncAndLog(ctx, src)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncAndLog(ctx, src)
		}
	}
}

func (a *Aggregator) syncAndLog(ctx context.Context, src schemas.SourceConfig) {
	report, err := a.Sync(ctx, src.Name)
	if err != nil {
		// Degrade to zero for this cycle; the next tick retries.
		a.logger.Warn("Source sync failed; will retry next cycle.",
			zap.String("source", src.Name), zap.Error(err))
		metrics.IntelSyncErrors.WithLabelValues(src.Name).Inc()
		return
	}
	a.logger.Info("Source sync complete.",
		zap.String("source", report.SourceID),
		zap.Int("processed", report.Processed),
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("errors", report.Errors),
		zap.String("duration", report.Duration))
}

// Sync runs one full cycle for the named source: fetch, parse, upsert, then
// sweep indicators this source has stopped reporting.
func (a *Aggregator) Sync(ctx context.Context, sourceName string) (*schemas.SyncReport, error) {
	var src *schemas.SourceConfig
	for i := range a.sources {
		if a.sources[i].Name == sourceName {
			src = &a.sources[i]
			break
		}
	}
	if src == nil {
		return nil, fmt.Errorf("unknown or disabled intel source %q", sourceName)
	}

	started := time.Now()
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := fetchFeed(ctx, a.client, *src)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	indicators, malformed := parseFeed(*src, body, now)
	if malformed > 0 {
		metrics.IntelSyncErrors.WithLabelValues(src.Name).Add(float64(malformed))
	}

	report := &schemas.SyncReport{
		SourceID:  src.Name,
		Processed: len(indicators) + malformed,
		Errors:    malformed,
		StartedAt: started.UTC(),
	}

	if len(indicators) > 0 {
		stats, err := a.store.Upsert(ctx, indicators)
		report.Added = stats.Added
		report.Updated = stats.Updated
		if err != nil {
			return nil, fmt.Errorf("storing indicators from %s: %w", src.Name, err)
		}
	}

	if a.cfg.GracePeriod > 0 {
		swept, err := a.store.Deactivate(ctx, src.Name, now.Add(-a.cfg.GracePeriod))
		if err != nil {
			a.logger.Warn("Stale indicator sweep failed.", zap.String("source", src.Name), zap.Error(err))
		} else if swept > 0 {
			a.logger.Info("Deactivated stale indicators.",
				zap.String("source", src.Name), zap.Int64("count", swept))
		}
	}

	a.refreshGauges(ctx)
	report.Duration = time.Since(started).Round(time.Millisecond).String()
	return report, nil
}

// SyncAll runs one cycle for every enabled source sequentially. Used by the
// one-shot CLI path; the serve path uses Run instead.
func (a *Aggregator) SyncAll(ctx context.Context) ([]*schemas.SyncReport, error) {
	var reports []*schemas.SyncReport
	for _, src := range a.sources {
		report, err := a.Sync(ctx, src.Name)
		if err != nil {
			a.logger.Warn("Source sync failed.", zap.String("source", src.Name), zap.Error(err))
			metrics.IntelSyncErrors.WithLabelValues(src.Name).Inc()
			continue
		}
		reports = append(reports, report)
	}
	if len(reports) == 0 && len(a.sources) > 0 {
		return nil, fmt.Errorf("all %d intel sources failed to sync", len(a.sources))
	}
	return reports, nil
}

func (a *Aggregator) refreshGauges(ctx context.Context) {
	for _, t := range []schemas.IndicatorType{
		schemas.IndicatorURL, schemas.IndicatorDomain, schemas.IndicatorIP,
	} {
		if n, err := a.store.Count(ctx, t); err == nil {
			metrics.IntelIndicators.WithLabelValues(string(t)).Set(float64(n))
		}
	}
}
