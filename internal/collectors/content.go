// File: internal/collectors/content.go
package collectors

import (
	"context"
	"fmt"
	urlpkg "net/url"
	"regexp"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/render"
)

const (
	contentBudget = 60.0

	pointsFormMismatch  = 25.0
	pointsAutoDownload  = 20.0
	pointsHiddenIframe  = 8.0
	pointsObfuscatedJS  = 7.0
)

// parkedMarkers identify registrar parking pages.
var parkedMarkers = []string{
	"this domain is parked", "domain is for sale", "buy this domain",
	"parked free", "sedoparking", "parkingcrew", "domain parking",
}

var hiddenIframeRe = regexp.MustCompile(`(?i)<iframe[^>]*(width\s*=\s*["']?0|height\s*=\s*["']?0|display\s*:\s*none|visibility\s*:\s*hidden)`)

// Dense eval/unescape chains over long packed strings mark obfuscated loaders.
var obfuscatedJSRe = regexp.MustCompile(`(?i)(eval\s*\(\s*(unescape|atob|function\s*\(p,a,c,k,e)|document\.write\s*\(\s*unescape)`)

// ContentCollector inspects the rendered page snapshot for credential-harvest
// and drive-by behavior. It owns the reachability classification for pages
// that did load.
type ContentCollector struct{}

func NewContentCollector() *ContentCollector { return &ContentCollector{} }

func (c *ContentCollector) Name() string       { return "content" }
func (c *ContentCollector) MaxPoints() float64 { return contentBudget }

func (c *ContentCollector) Collect(_ context.Context, target *Target) (*Report, error) {
	report := &Report{}

	snap := target.Snapshot
	if snap == nil {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.snapshot",
			Result:      schemas.ResultSkipped,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   contentBudget,
			Explanation: "No rendered page snapshot available; content checks skipped.",
		})
		return report, nil
	}

	report.Facts.Reachability = classifyReachability(target, snap)

	hasLogin := snap.HasLoginForm()
	report.Facts.HasLoginForm = boolPtr(hasLogin)
	if hasLogin {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.login_form",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   pointsFormMismatch,
			Explanation: "Page presents a password form; credential checks apply.",
		})
	}

	mismatch := snap.FormOriginMismatch()
	report.Facts.FormOriginMismatch = boolPtr(mismatch)
	if mismatch {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.form_origin_mismatch",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsFormMismatch,
			MaxPoints:   pointsFormMismatch,
			Explanation: "A password form posts credentials to a different host than the page origin.",
		})
	}

	report.Facts.AutoDownload = boolPtr(snap.AutoDownload)
	if snap.AutoDownload {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.auto_download",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsAutoDownload,
			MaxPoints:   pointsAutoDownload,
			Explanation: fmt.Sprintf("Page triggered a file download without interaction (%s).", snap.DownloadURL),
		})
	}

	if hiddenIframeRe.MatchString(snap.DOM) {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.hidden_iframe",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityMedium,
			Points:      pointsHiddenIframe,
			MaxPoints:   pointsHiddenIframe,
			Explanation: "Page embeds a hidden iframe.",
		})
	}

	if obfuscatedJSRe.MatchString(snap.DOM) {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.obfuscated_script",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityMedium,
			Points:      pointsObfuscatedJS,
			MaxPoints:   pointsObfuscatedJS,
			Explanation: "Page contains obfuscated script loaders (eval/unescape chains).",
		})
	}

	if len(report.Findings) == 0 {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "content.clean",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   contentBudget,
			Explanation: "No suspicious content behavior observed.",
		})
	}

	return report, nil
}

// classifyReachability decides the pipeline branch from how the page loaded:
// off-domain final URL means redirected, registrar boilerplate means parked.
func classifyReachability(target *Target, snap *render.Snapshot) schemas.Reachability {
	if snap.HTTPStatus == 0 && snap.DOM == "" && !snap.AutoDownload {
		return schemas.ReachabilityUnreachable
	}

	if final := snap.FinalURL; final != "" {
		if u, err := urlpkg.Parse(final); err == nil {
			if RegistrableDomain(u.Hostname()) != target.Domain {
				return schemas.ReachabilityRedirected
			}
		}
	}

	haystack := strings.ToLower(snap.Title + " " + snap.DOM)
	for _, marker := range parkedMarkers {
		if strings.Contains(haystack, marker) {
			return schemas.ReachabilityParked
		}
	}

	return schemas.ReachabilityReachable
}
