// File: internal/collectors/headers.go
package collectors

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	headersBudget = 25.0

	pointsNoHSTS        = 6.0
	pointsShortHSTS     = 3.0
	pointsNoSubdomains  = 1.5
	pointsNoPreload     = 1.5
	pointsNoCSP         = 6.0
	pointsUnsafeCSP     = 3.0
	pointsNoContentType = 3.0
	pointsNoFrameOpts   = 3.0
	pointsNoReferrer    = 2.0
	pointsCookieFlag    = 1.0
	pointsCookieCap     = 5.0

	// One year, the preload-list minimum.
	hstsFullCreditSeconds = 31536000
)

const scanUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// HeadersCollector scores the target's HTTP security header hygiene.
// Legitimate services tend to carry these; throwaway phishing kits rarely do.
type HeadersCollector struct {
	client *http.Client
}

func NewHeadersCollector(client *http.Client) *HeadersCollector {
	return &HeadersCollector{client: client}
}

func (c *HeadersCollector) Name() string       { return "headers" }
func (c *HeadersCollector) MaxPoints() float64 { return headersBudget }

func (c *HeadersCollector) Collect(ctx context.Context, target *Target) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Raw, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", scanUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching headers: %w", err)
	}
	defer resp.Body.Close()

	report := &Report{}
	report.Findings = append(report.Findings, checkHSTS(resp.Header.Get("Strict-Transport-Security")))
	report.Findings = append(report.Findings, checkCSP(resp.Header.Get("Content-Security-Policy")))
	report.Findings = append(report.Findings, checkSimpleHeader(resp.Header,
		"X-Content-Type-Options", pointsNoContentType, "MIME sniffing is not disabled."))
	report.Findings = append(report.Findings, checkSimpleHeader(resp.Header,
		"X-Frame-Options", pointsNoFrameOpts, "The page may be framed by other sites."))
	report.Findings = append(report.Findings, checkSimpleHeader(resp.Header,
		"Referrer-Policy", pointsNoReferrer, "No referrer policy is declared."))
	report.Findings = append(report.Findings, checkCookies(resp.Cookies())...)

	return report, nil
}

// checkHSTS grants full credit only for a preload-grade max-age with both
// includeSubDomains and preload set. Each weakness earns its own partial
// penalty; together they sum to the missing-header penalty.
func checkHSTS(value string) schemas.Finding {
	f := schemas.Finding{Check: "headers.hsts", MaxPoints: pointsNoHSTS}
	if value == "" {
		f.Result = schemas.ResultWarn
		f.Severity = schemas.SeverityLow
		f.Points = pointsNoHSTS
		f.Explanation = "HSTS is not enforced."
		return f
	}

	maxAge := 0
	subdomains, preload := false, false
	for _, directive := range strings.Split(value, ";") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case strings.HasPrefix(directive, "max-age="):
			maxAge, _ = strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
		case directive == "includesubdomains":
			subdomains = true
		case directive == "preload":
			preload = true
		}
	}

	var points float64
	var weaknesses []string
	if maxAge < hstsFullCreditSeconds {
		points += pointsShortHSTS
		weaknesses = append(weaknesses, fmt.Sprintf("max-age (%ds) is below the one-year preload minimum", maxAge))
	}
	if !subdomains {
		points += pointsNoSubdomains
		weaknesses = append(weaknesses, "includeSubDomains is not set")
	}
	if !preload {
		points += pointsNoPreload
		weaknesses = append(weaknesses, "preload is not set")
	}

	if points > 0 {
		f.Result = schemas.ResultWarn
		f.Severity = schemas.SeverityInfo
		f.Points = points
		f.Explanation = fmt.Sprintf("HSTS is weak: %s.", strings.Join(weaknesses, "; "))
		return f
	}

	f.Result = schemas.ResultPass
	f.Severity = schemas.SeverityInfo
	f.Explanation = "HSTS is enforced with a preload-grade policy."
	return f
}

// checkCSP penalizes a missing policy, and separately a policy that allows
// unsafe-inline scripts without a nonce or hash.
func checkCSP(value string) schemas.Finding {
	f := schemas.Finding{Check: "headers.csp", MaxPoints: pointsNoCSP}
	if value == "" {
		f.Result = schemas.ResultWarn
		f.Severity = schemas.SeverityLow
		f.Points = pointsNoCSP
		f.Explanation = "No Content-Security-Policy is set."
		return f
	}

	lower := strings.ToLower(value)
	if strings.Contains(lower, "'unsafe-inline'") &&
		!strings.Contains(lower, "'nonce-") && !strings.Contains(lower, "'sha256-") {
		f.Result = schemas.ResultWarn
		f.Severity = schemas.SeverityInfo
		f.Points = pointsUnsafeCSP
		f.Explanation = "Content-Security-Policy allows unsafe-inline scripts without a nonce or hash."
		return f
	}

	f.Result = schemas.ResultPass
	f.Severity = schemas.SeverityInfo
	f.Explanation = "Content-Security-Policy is present."
	return f
}

func checkSimpleHeader(h http.Header, header string, points float64, missingMsg string) schemas.Finding {
	name := "headers." + strings.ToLower(strings.ReplaceAll(header, "-", "_"))
	if h.Get(header) == "" {
		return schemas.Finding{
			Check:       name,
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityInfo,
			Points:      points,
			MaxPoints:   points,
			Explanation: missingMsg,
		}
	}
	return schemas.Finding{
		Check:       name,
		Result:      schemas.ResultPass,
		Severity:    schemas.SeverityInfo,
		MaxPoints:   points,
		Explanation: fmt.Sprintf("%s is present.", header),
	}
}

// checkCookies scores Secure/HttpOnly/SameSite per cookie, not per response.
// The aggregate penalty is capped so cookie-heavy sites aren't swamped.
func checkCookies(cookies []*http.Cookie) []schemas.Finding {
	if len(cookies) == 0 {
		return nil
	}

	var findings []schemas.Finding
	var total float64
	for _, ck := range cookies {
		var missing []string
		if !ck.Secure {
			missing = append(missing, "Secure")
		}
		if !ck.HttpOnly {
			missing = append(missing, "HttpOnly")
		}
		if ck.SameSite == http.SameSiteDefaultMode {
			missing = append(missing, "SameSite")
		}
		if len(missing) == 0 {
			continue
		}

		points := pointsCookieFlag * float64(len(missing))
		if total+points > pointsCookieCap {
			points = pointsCookieCap - total
		}
		if points <= 0 {
			break
		}
		total += points
		findings = append(findings, schemas.Finding{
			Check:       "headers.cookie_flags",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityInfo,
			Points:      points,
			MaxPoints:   pointsCookieCap,
			Explanation: fmt.Sprintf("Cookie %q is missing %s.", ck.Name, strings.Join(missing, ", ")),
		})
	}
	return findings
}
