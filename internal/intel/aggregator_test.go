// File: internal/intel/aggregator_test.go
package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
)

func newTestAggregator(store Store, sources ...schemas.SourceConfig) *Aggregator {
	return NewAggregator(zap.NewNop(), config.IntelConfig{
		Sources:        sources,
		GracePeriod:    48 * time.Hour,
		FetchTimeout:   5 * time.Second,
		RequestsPerSec: 100,
	}, store)
}

func TestAggregatorFiltersDisabledSources(t *testing.T) {
	a := newTestAggregator(NewMemoryStore(100, 0.001),
		schemas.SourceConfig{Name: "on", Enabled: true},
		schemas.SourceConfig{Name: "off", Enabled: false},
	)

	require.Len(t, a.Sources(), 1)
	assert.Equal(t, "on", a.Sources()[0].Name)

	_, err := a.Sync(context.Background(), "off")
	assert.Error(t, err, "disabled sources are not syncable")
}

func TestAggregatorSyncCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"type": "domain", "value": "evil.example.com", "severity": "high"},
			{"type": "domain", "value": "bad.example.net"},
			{"type": "nonsense", "value": "x"}
		]`))
	}))
	defer srv.Close()

	store := NewMemoryStore(100, 0.001)
	a := newTestAggregator(store, schemas.SourceConfig{
		Name: "feed1", URL: srv.URL, Format: "json", Enabled: true,
	})

	report, err := a.Sync(context.Background(), "feed1")
	require.NoError(t, err)

	assert.Equal(t, "feed1", report.SourceID)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Added)
	assert.Zero(t, report.Updated)
	assert.Equal(t, 1, report.Errors)

	hit, err := store.Lookup(context.Background(), schemas.IndicatorDomain, "evil.example.com")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, schemas.SeverityHigh, hit.Severity)

	// A second cycle updates rather than duplicates.
	report, err = a.Sync(context.Background(), "feed1")
	require.NoError(t, err)
	assert.Zero(t, report.Added)
	assert.Equal(t, 2, report.Updated)
}

func TestAggregatorSyncSweepsStaleIndicators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"type": "domain", "value": "fresh.example.com"}]`))
	}))
	defer srv.Close()

	store := NewMemoryStore(100, 0.001)

	// Seed an indicator this source stopped reporting long ago.
	_, err := store.Upsert(context.Background(), []schemas.ThreatIndicator{
		testIndicator("feed1", "stale.example.com", schemas.SeverityMedium,
			time.Now().UTC().Add(-30*24*time.Hour)),
	})
	require.NoError(t, err)

	a := newTestAggregator(store, schemas.SourceConfig{
		Name: "feed1", URL: srv.URL, Format: "json", Enabled: true,
	})

	_, err = a.Sync(context.Background(), "feed1")
	require.NoError(t, err)

	stale, err := store.Lookup(context.Background(), schemas.IndicatorDomain, "stale.example.com")
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.False(t, stale.Active, "indicators outside the grace period are deactivated")

	fresh, err := store.Lookup(context.Background(), schemas.IndicatorDomain, "fresh.example.com")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.True(t, fresh.Active)
}

func TestSyncAllToleratesPartialFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"type": "domain", "value": "evil.example.com"}]`))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	a := newTestAggregator(NewMemoryStore(100, 0.001),
		schemas.SourceConfig{Name: "good", URL: good.URL, Format: "json", Enabled: true},
		schemas.SourceConfig{Name: "bad", URL: bad.URL, Format: "json", Enabled: true},
	)

	reports, err := a.SyncAll(context.Background())
	require.NoError(t, err, "one healthy source keeps the cycle alive")
	require.Len(t, reports, 1)
	assert.Equal(t, "good", reports[0].SourceID)
}

func TestSyncAllFailsWhenEverySourceFails(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	a := newTestAggregator(NewMemoryStore(100, 0.001),
		schemas.SourceConfig{Name: "bad", URL: bad.URL, Format: "json", Enabled: true},
	)

	_, err := a.SyncAll(context.Background())
	assert.Error(t, err)
}
