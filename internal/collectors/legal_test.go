// File: internal/collectors/legal_test.go
package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/render"
)

func TestLegalCollectorCompliantPage(t *testing.T) {
	page := `<html><body>
		<a href="/privacy">Privacy Policy</a>
		<a href="/terms">Terms of Service</a>
		<a href="mailto:support@example.com">Contact us</a>
		<footer>&copy; 2026 Example Corp. All rights reserved.</footer>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	c := NewLegalCollector(srv.Client())
	report, err := c.Collect(context.Background(), testTarget(t, srv.URL))
	require.NoError(t, err)

	require.Len(t, report.Findings, 4)
	for _, f := range report.Findings {
		assert.Equal(t, schemas.ResultPass, f.Result, f.Check)
		assert.Zero(t, f.Points)
	}
}

func TestLegalCollectorBareShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body><form><input type=password></form></body></html>")
	}))
	defer srv.Close()

	c := NewLegalCollector(srv.Client())
	report, err := c.Collect(context.Background(), testTarget(t, srv.URL))
	require.NoError(t, err)

	// 12 + 10 + 8 + 5: every probe misses.
	var total float64
	for _, f := range report.Findings {
		assert.Equal(t, schemas.ResultWarn, f.Result, f.Check)
		total += f.Points
	}
	assert.InDelta(t, 35, total, 1e-9)
}

func TestLegalCollectorPrefersSnapshotDOM(t *testing.T) {
	// No HTTP server at all: the rendered DOM must be enough.
	target := testTarget(t, "https://example.invalid")
	target.Snapshot = &render.Snapshot{
		DOM: `<html><footer>Privacy Policy | Terms of Use | Contact us | Copyright 2026</footer></html>`,
	}

	c := NewLegalCollector(http.DefaultClient)
	report, err := c.Collect(context.Background(), target)
	require.NoError(t, err)

	for _, f := range report.Findings {
		assert.Equal(t, schemas.ResultPass, f.Result, f.Check)
	}
}

func TestLegalCollectorFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := srv.Client()
	srv.Close()

	c := NewLegalCollector(client)
	_, err := c.Collect(context.Background(), testTarget(t, srv.URL))
	assert.Error(t, err)
}
