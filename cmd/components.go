// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/calibration"
	"github.com/elara-sec/verdict/internal/collectors"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/explain"
	"github.com/elara-sec/verdict/internal/intel"
	"github.com/elara-sec/verdict/internal/llmclient"
	"github.com/elara-sec/verdict/internal/pipeline"
	"github.com/elara-sec/verdict/internal/policy"
	"github.com/elara-sec/verdict/internal/render"
	"github.com/elara-sec/verdict/internal/store"
)

// scanComponents holds initialized services for a command invocation.
type scanComponents struct {
	Engine     *pipeline.Engine
	Explainer  *explain.Explainer
	Renderer   render.Renderer
	IntelStore intel.Store
	Store      *store.Store
	DBPool     *pgxpool.Pool
	LLM        schemas.LLMClient
}

// Shutdown gracefully closes all components.
func (sc *scanComponents) Shutdown() {
	if sc.Renderer != nil {
		sc.Renderer.Close()
	}
	if sc.DBPool != nil {
		sc.DBPool.Close()
	}
}

// initializeComponents wires the engine and its dependencies. requireDB makes
// a missing database URL fatal; without it the engine falls back to the
// in-memory intel store and skips result persistence.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, requireDB bool) (*scanComponents, error) {
	components := &scanComponents{}

	// 1. Database, store, and intel backend.
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize database store: %w", err)
		}
		components.Store = dbStore

		intelStore, err := intel.NewPostgresStore(ctx, dbPool, logger, cfg.Intel.ChunkSize)
		if err != nil {
			return components, fmt.Errorf("failed to initialize intel store: %w", err)
		}
		components.IntelStore = intelStore
	} else {
		if requireDB {
			return components, fmt.Errorf("database URL is not configured (VERDICT_DATABASE_URL)")
		}
		logger.Warn("No database configured; using in-memory intel store and skipping persistence.")
		components.IntelStore = intel.NewMemoryStore(cfg.Intel.BloomCapacity, cfg.Intel.BloomErrorRate)
	}

	// 2. LLM router.
	llm, err := llmclient.NewRouter(cfg.LLM, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM router: %w", err)
	}
	components.LLM = llm

	// 3. Page renderer.
	if cfg.Pipeline.RenderEnabled {
		renderer, err := render.NewPageRenderer(ctx, logger, cfg.Pipeline)
		if err != nil {
			logger.Warn("Headless browser unavailable; content rendering disabled.", zap.Error(err))
			components.Renderer = render.NoopRenderer{}
		} else {
			components.Renderer = renderer
		}
	} else {
		components.Renderer = render.NoopRenderer{}
	}

	// 4. Collectors.
	resolver := collectors.NewDNSResolver(cfg.Collectors.Resolver)
	httpClient := &http.Client{Timeout: cfg.Collectors.HTTPTimeout}
	runner := collectors.NewRunner(logger, cfg.Collectors, []collectors.Collector{
		collectors.NewDNSInfoCollector(resolver, collectors.LiveWhoisClient{}),
		collectors.NewTLSInfoCollector(),
		collectors.NewHeadersCollector(httpClient),
		collectors.NewEmailAuthCollector(resolver, cfg.Collectors.DKIMSelectors),
		collectors.NewURLPatternCollector(),
		collectors.NewLegalCollector(httpClient),
		collectors.NewContentCollector(),
		collectors.NewThreatIntelCollector(components.IntelStore, resolver),
	})

	// 5. Calibrator and policy.
	calibrator, err := calibration.New(cfg.Calibration)
	if err != nil {
		return components, fmt.Errorf("failed to initialize calibrator: %w", err)
	}
	policyEngine := policy.NewEngine(logger, policy.DefaultRules())

	// 6. Pipeline engine and explainer.
	components.Engine = pipeline.NewEngine(logger, cfg.Pipeline, runner, components.Renderer, llm, calibrator, policyEngine)
	components.Explainer = explain.New(logger, cfg.Explainer, llm)

	return components, nil
}
