// File: internal/render/renderer.go
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/internal/config"
)

// FormInfo describes one form found on the rendered page.
type FormInfo struct {
	Action      string `json:"action"`
	Method      string `json:"method"`
	HasPassword bool   `json:"has_password"`
}

// Snapshot is everything the content collector needs from one page load.
// Captured once per scan; collectors treat it as immutable.
type Snapshot struct {
	RequestedURL  string     `json:"requested_url"`
	FinalURL      string     `json:"final_url"`
	HTTPStatus    int        `json:"http_status"`
	RedirectChain []string   `json:"redirect_chain,omitempty"`
	Title         string     `json:"title"`
	DOM           string     `json:"dom"`
	Forms         []FormInfo `json:"forms,omitempty"`
	AutoDownload  bool       `json:"auto_download"`
	DownloadURL   string     `json:"download_url,omitempty"`
	CapturedAt    time.Time  `json:"captured_at"`
}

// HasLoginForm reports whether any form on the page collects a password.
func (s *Snapshot) HasLoginForm() bool {
	for _, f := range s.Forms {
		if f.HasPassword {
			return true
		}
	}
	return false
}

// FormOriginMismatch reports whether a password form posts to a different
// registrable host than the page itself. A classic credential-exfil tell.
func (s *Snapshot) FormOriginMismatch() bool {
	pageHost := hostOf(s.FinalURL)
	if pageHost == "" {
		return false
	}
	for _, f := range s.Forms {
		if !f.HasPassword || f.Action == "" {
			continue
		}
		actionHost := hostOf(f.Action)
		if actionHost != "" && !strings.EqualFold(actionHost, pageHost) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Renderer captures a page snapshot for content analysis. Implementations must
// honor context cancellation.
type Renderer interface {
	Capture(ctx context.Context, target string) (*Snapshot, error)
	Close()
}

// formExtractionJS pulls form metadata out of the live DOM. Runs after load so
// dynamically injected forms are included.
const formExtractionJS = `(() => {
	const out = [];
	for (const f of document.querySelectorAll('form')) {
		out.push({
			action: f.action || '',
			method: (f.method || 'get').toLowerCase(),
			has_password: f.querySelector('input[type=password]') !== null,
		});
	}
	return out;
})()`

// PageRenderer drives a shared headless browser process. Each Capture derives
// a fresh tab context from the long-lived allocator.
type PageRenderer struct {
	logger *zap.Logger
	cfg    config.PipelineConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewPageRenderer launches the browser process and verifies it responds.
func NewPageRenderer(ctx context.Context, logger *zap.Logger, cfg config.PipelineConfig) (*PageRenderer, error) {
	r := &PageRenderer{
		logger: logger.Named("renderer"),
		cfg:    cfg,
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		// Malicious pages are exactly what we navigate to; never trust their chain.
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	r.allocatorCtx, r.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	// Verify the browser starts before accepting work.
	testCtx, cancelTest := context.WithTimeout(r.allocatorCtx, 30*time.Second)
	defer cancelTest()
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	defer cancelTab()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		r.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	r.logger.Info("Headless browser launched.")
	return r, nil
}

// Capture navigates to target in a fresh tab and assembles a Snapshot.
// Download attempts are denied but still observed, so drive-by downloads are
// detected without writing anything to disk.
func (r *PageRenderer) Capture(ctx context.Context, target string) (*Snapshot, error) {
	r.wg.Add(1)
	defer r.wg.Done()

	tabCtx, cancel := context.WithTimeout(r.allocatorCtx, r.cfg.RenderTimeout)
	defer cancel()
	tabCtx, cancelTab := chromedp.NewContext(tabCtx)
	defer cancelTab()

	// Propagate the caller's cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	snap := &Snapshot{
		RequestedURL: target,
		CapturedAt:   time.Now().UTC(),
	}

	var mu sync.Mutex
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type != network.ResourceTypeDocument || e.RedirectResponse == nil {
				return
			}
			mu.Lock()
			snap.RedirectChain = append(snap.RedirectChain, e.DocumentURL)
			mu.Unlock()
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument {
				return
			}
			mu.Lock()
			if snap.HTTPStatus == 0 {
				snap.HTTPStatus = int(e.Response.Status)
			}
			mu.Unlock()
		case *browser.EventDownloadWillBegin:
			mu.Lock()
			snap.AutoDownload = true
			snap.DownloadURL = e.URL
			mu.Unlock()
		}
	})

	var forms []FormInfo
	err := chromedp.Run(tabCtx,
		network.Enable(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny).
			WithEventsEnabled(true),
		chromedp.Navigate(target),
		// Let late redirects and injected content settle.
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&snap.FinalURL),
		chromedp.Title(&snap.Title),
		chromedp.OuterHTML("html", &snap.DOM),
		chromedp.Evaluate(formExtractionJS, &forms),
	)
	if err != nil {
		// A download navigation aborts the page load; the snapshot is still
		// useful for the auto-download signal.
		mu.Lock()
		downloaded := snap.AutoDownload
		mu.Unlock()
		if !downloaded {
			return nil, fmt.Errorf("page capture failed: %w", err)
		}
	}
	snap.Forms = forms

	return snap, nil
}

// Close tears down the browser process after in-flight captures finish.
func (r *PageRenderer) Close() {
	r.wg.Wait()
	if r.allocatorCancel != nil {
		r.allocatorCancel()
	}
	r.logger.Info("Headless browser shut down.")
}

// NoopRenderer satisfies Renderer when rendering is disabled. Capture reports
// an error so the content collector degrades to a skipped finding.
type NoopRenderer struct{}

func (NoopRenderer) Capture(_ context.Context, _ string) (*Snapshot, error) {
	return nil, fmt.Errorf("page rendering is disabled")
}

func (NoopRenderer) Close() {}
