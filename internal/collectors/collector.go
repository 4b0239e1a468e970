// File: internal/collectors/collector.go

// Package collectors gathers independent, scored observations about a target
// URL. Each collector owns a fixed point budget; the runner fans them out in
// parallel and converts failures into explicit degraded findings rather than
// dropping evidence silently.
package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/metrics"
	"github.com/elara-sec/verdict/internal/render"
)

// Target is the parsed subject of one scan, shared read-only by all
// collectors.
type Target struct {
	Raw    string
	URL    *url.URL
	Host   string
	Domain string

	// Snapshot is the rendered page, when the pipeline captured one. Nil
	// means rendering was disabled or failed; content checks degrade.
	Snapshot *render.Snapshot
}

// NewTarget parses and validates a raw URL into a Target.
func NewTarget(raw string) (*Target, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("target url %q has no host", raw)
	}
	return &Target{
		Raw:    raw,
		URL:    u,
		Host:   u.Hostname(),
		Domain: RegistrableDomain(u.Hostname()),
	}, nil
}

// RegistrableDomain approximates the registrable domain of a hostname. Good
// enough for grouping subdomains; a full public-suffix list is overkill here.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	// Common two-part public suffixes keep one extra label.
	twoPart := map[string]bool{
		"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
		"com.au": true, "net.au": true, "org.au": true,
		"com.br": true, "co.jp": true, "co.in": true, "co.nz": true,
		"com.mx": true, "com.cn": true, "com.tr": true,
	}
	suffix := strings.Join(labels[len(labels)-2:], ".")
	if twoPart[suffix] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return suffix
}

// Facts carries structured evidence out of a collector for the shared
// EvidenceSummary. Nil pointers mean the collector has nothing to say about
// that fact.
type Facts struct {
	DomainAgeDays      *int
	TLSValid           *bool
	TIHits             *int
	TICriticalHits     *int
	HasLoginForm       *bool
	FormOriginMismatch *bool
	AutoDownload       *bool
	Reachability       schemas.Reachability
}

// Report is the full output of one collector run.
type Report struct {
	Findings []schemas.Finding
	Facts    Facts
}

// Collector is a single evidence source. Collect must be safe for concurrent
// use and must respect ctx; the runner enforces a per-collector deadline.
type Collector interface {
	Name() string
	MaxPoints() float64
	Collect(ctx context.Context, target *Target) (*Report, error)
}

// Result is the merged outcome of the collector phase.
type Result struct {
	Findings   []schemas.Finding
	Categories map[string]float64
	RiskScore  float64
	MaxScore   float64
	Evidence   schemas.EvidenceSummary
}

// Runner fans collectors out in parallel under a shared outer deadline.
type Runner struct {
	logger     *zap.Logger
	cfg        config.CollectorsConfig
	collectors []Collector
}

// NewRunner builds a runner over a fixed collector set.
func NewRunner(logger *zap.Logger, cfg config.CollectorsConfig, collectors []Collector) *Runner {
	return &Runner{
		logger:     logger.Named("collectors"),
		cfg:        cfg,
		collectors: collectors,
	}
}

// Run executes every collector and merges their reports. Individual failures
// never fail the phase: a collector that times out or errors contributes a
// zero-point degraded finding and is excluded from the completeness count.
// At the outer deadline the phase proceeds with whatever evidence arrived;
// stragglers are abandoned, not awaited, so a collector that ignores its
// context cannot stall the scan.
func (r *Runner) Run(ctx context.Context, target *Target) (*Result, error) {
	outerCtx, cancel := context.WithTimeout(ctx, r.cfg.OuterTimeout)
	defer cancel()

	type outcome struct {
		index    int
		report   *Report
		err      error
		timedOut bool
	}

	// Buffered to capacity so abandoned goroutines can still deliver and exit.
	outcomes := make(chan outcome, len(r.collectors))
	for i, c := range r.collectors {
		go func(i int, c Collector) {
			start := time.Now()
			cctx, ccancel := context.WithTimeout(outerCtx, r.cfg.CheckTimeout)
			defer ccancel()

			report, err := c.Collect(cctx, target)
			metrics.CollectorDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
			outcomes <- outcome{index: i, report: report, err: err, timedOut: cctx.Err() != nil}
		}(i, c)
	}

	reports := make([]*Report, len(r.collectors))
	failures := make([]schemas.Finding, len(r.collectors))
	settled := make([]bool, len(r.collectors))

	record := func(out outcome) {
		c := r.collectors[out.index]
		settled[out.index] = true
		if out.err == nil {
			reports[out.index] = out.report
			return
		}
		kind := schemas.ResultError
		if out.timedOut {
			kind = schemas.ResultTimeout
		}
		metrics.CollectorFailures.WithLabelValues(c.Name(), string(kind)).Inc()
		r.logger.Warn("Collector degraded.",
			zap.String("collector", c.Name()),
			zap.String("kind", string(kind)),
			zap.Error(out.err))
		failures[out.index] = schemas.Finding{
			Check:       c.Name(),
			Result:      kind,
			Severity:    schemas.SeverityInfo,
			Points:      0,
			MaxPoints:   c.MaxPoints(),
			Explanation: fmt.Sprintf("Evidence unavailable: %v", out.err),
		}
	}

	pending := len(r.collectors)
wait:
	for pending > 0 {
		select {
		case out := <-outcomes:
			pending--
			record(out)
		case <-outerCtx.Done():
			// Drain whatever already finished, then stop waiting.
			for pending > 0 {
				select {
				case out := <-outcomes:
					pending--
					record(out)
				default:
					break wait
				}
			}
		}
	}

	for i, c := range r.collectors {
		if settled[i] {
			continue
		}
		metrics.CollectorFailures.WithLabelValues(c.Name(), string(schemas.ResultTimeout)).Inc()
		r.logger.Warn("Collector abandoned at the evidence deadline.",
			zap.String("collector", c.Name()))
		failures[i] = schemas.Finding{
			Check:       c.Name(),
			Result:      schemas.ResultTimeout,
			Severity:    schemas.SeverityInfo,
			Points:      0,
			MaxPoints:   c.MaxPoints(),
			Explanation: "Evidence unavailable: collector did not finish before the evidence deadline.",
		}
	}

	result := &Result{
		Categories: make(map[string]float64, len(r.collectors)),
		Evidence: schemas.EvidenceSummary{
			Reachability:    schemas.ReachabilityReachable,
			CollectorsTotal: len(r.collectors),
		},
	}

	for i, c := range r.collectors {
		result.MaxScore += c.MaxPoints()

		report := reports[i]
		if report == nil {
			result.Findings = append(result.Findings, failures[i])
			result.Categories[c.Name()] = 0
			continue
		}
		result.Evidence.CollectorsCompleted++

		// A collector never contributes more than its declared budget.
		var points float64
		for _, f := range report.Findings {
			points += f.Points
		}
		if points > c.MaxPoints() {
			points = c.MaxPoints()
		}
		result.Categories[c.Name()] = points
		result.RiskScore += points
		result.Findings = append(result.Findings, report.Findings...)

		mergeFacts(&result.Evidence, report.Facts)
	}

	return result, nil
}

// mergeFacts folds one collector's facts into the shared summary. Boolean
// facts OR together; reachability degrades monotonically away from reachable.
func mergeFacts(sum *schemas.EvidenceSummary, f Facts) {
	if f.DomainAgeDays != nil {
		sum.DomainAgeDays = *f.DomainAgeDays
		sum.DomainAgeKnown = true
	}
	if f.TLSValid != nil {
		sum.TLSValid = *f.TLSValid
	}
	if f.TIHits != nil {
		sum.TIHits = *f.TIHits
	}
	if f.TICriticalHits != nil {
		sum.TICriticalHits = *f.TICriticalHits
	}
	if f.HasLoginForm != nil {
		sum.HasLoginForm = sum.HasLoginForm || *f.HasLoginForm
	}
	if f.FormOriginMismatch != nil {
		sum.FormOriginMismatch = sum.FormOriginMismatch || *f.FormOriginMismatch
	}
	if f.AutoDownload != nil {
		sum.AutoDownload = sum.AutoDownload || *f.AutoDownload
	}
	if f.Reachability != "" && f.Reachability != schemas.ReachabilityReachable {
		sum.Reachability = f.Reachability
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
