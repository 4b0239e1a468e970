// File: internal/collectors/urlpattern.go
package collectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/elara-sec/verdict/api/schemas"
)

const (
	urlPatternBudget = 65.0

	pointsTLDImpersonation  = 35.0
	pointsBrandInPath       = 40.0
	pointsPathKeyword       = 5.0
	pointsPathKeywordCap    = 15.0
	pointsFreeHosting       = 35.0
	pointsFreeHostingBrand  = 50.0
)

// brandTokens are high-value impersonation targets. Matched against subdomain
// labels and path segments, never against the registrable domain itself.
var brandTokens = []string{
	"paypal", "apple", "amazon", "microsoft", "google", "netflix",
	"facebook", "instagram", "whatsapp", "chase", "wellsfargo",
	"bankofamerica", "coinbase", "binance", "dhl", "fedex", "usps",
	"ebay", "steam", "outlook", "office365", "icloud", "dropbox",
}

// phishingPathKeywords are action words that cluster in credential-harvest
// paths.
var phishingPathKeywords = []string{
	"login", "signin", "verify", "verification", "secure", "account",
	"update", "confirm", "billing", "invoice", "password", "recover",
	"unlock", "suspend", "wallet", "authenticate",
}

// freeHostingSuffixes are providers where anyone can stand up a site in
// minutes. Legitimate businesses rarely run production there.
var freeHostingSuffixes = []string{
	".000webhostapp.com", ".weebly.com", ".wixsite.com", ".blogspot.com",
	".github.io", ".netlify.app", ".vercel.app", ".web.app",
	".firebaseapp.com", ".pages.dev", ".glitch.me", ".repl.co",
	".herokuapp.com", ".surge.sh", ".webnode.page", ".godaddysites.com",
}

// knownTLDs used for the subdomain-impersonation check: a label like "com" or
// "paypal-com" inside the subdomain fakes a domain boundary.
var impersonationTLDLabels = []string{"com", "net", "org", "gov", "edu"}

// URLPatternCollector scores lexical phishing patterns in the URL itself.
// Fully deterministic; no network access.
type URLPatternCollector struct{}

func NewURLPatternCollector() *URLPatternCollector { return &URLPatternCollector{} }

func (c *URLPatternCollector) Name() string       { return "urlpattern" }
func (c *URLPatternCollector) MaxPoints() float64 { return urlPatternBudget }

func (c *URLPatternCollector) Collect(_ context.Context, target *Target) (*Report, error) {
	report := &Report{}
	host := strings.ToLower(target.Host)
	path := strings.ToLower(target.URL.Path)
	domain := target.Domain

	subdomain := strings.TrimSuffix(strings.TrimSuffix(host, domain), ".")

	// e.g. paypal.com.account-verify.xyz: the real TLD is buried inside the
	// subdomain to fake a trusted domain boundary.
	if label := tldImpersonationLabel(subdomain); label != "" {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.tld_impersonation",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsTLDImpersonation,
			MaxPoints:   pointsTLDImpersonation,
			Explanation: fmt.Sprintf("Subdomain embeds %q to fake a domain boundary (actual domain is %s).", label, domain),
		})
	}

	freeHost := matchFreeHosting(host)
	brandInHost := matchBrand(subdomain)
	brandInPath := matchBrand(path)

	switch {
	case freeHost != "" && (brandInHost != "" || brandInPath != ""):
		brand := brandInHost
		if brand == "" {
			brand = brandInPath
		}
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.free_hosting_brand",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityCritical,
			Points:      pointsFreeHostingBrand,
			MaxPoints:   pointsFreeHostingBrand,
			Explanation: fmt.Sprintf("Brand %q impersonated on free hosting provider %s.", brand, freeHost),
		})
	case freeHost != "":
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.free_hosting",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityMedium,
			Points:      pointsFreeHosting,
			MaxPoints:   pointsFreeHosting,
			Explanation: fmt.Sprintf("Site is served from free hosting provider %s.", freeHost),
		})
	case brandInPath != "" && !strings.Contains(domain, brandInPath):
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.brand_in_path",
			Result:      schemas.ResultFail,
			Severity:    schemas.SeverityHigh,
			Points:      pointsBrandInPath,
			MaxPoints:   pointsBrandInPath,
			Explanation: fmt.Sprintf("URL path references brand %q, but the domain %s is unrelated to it.", brandInPath, domain),
		})
	}

	if kws := matchPathKeywords(path); len(kws) > 0 {
		points := pointsPathKeyword * float64(len(kws))
		if points > pointsPathKeywordCap {
			points = pointsPathKeywordCap
		}
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.path_keywords",
			Result:      schemas.ResultWarn,
			Severity:    schemas.SeverityLow,
			Points:      points,
			MaxPoints:   pointsPathKeywordCap,
			Explanation: fmt.Sprintf("URL path contains credential-harvest keywords: %s.", strings.Join(kws, ", ")),
		})
	}

	if len(report.Findings) == 0 {
		report.Findings = append(report.Findings, schemas.Finding{
			Check:       "urlpattern.clean",
			Result:      schemas.ResultPass,
			Severity:    schemas.SeverityInfo,
			MaxPoints:   urlPatternBudget,
			Explanation: "No lexical phishing patterns in the URL.",
		})
	}

	return report, nil
}

func tldImpersonationLabel(subdomain string) string {
	if subdomain == "" {
		return ""
	}
	for _, label := range strings.Split(subdomain, ".") {
		for _, tld := range impersonationTLDLabels {
			if label == tld || strings.HasSuffix(label, "-"+tld) {
				return label
			}
		}
	}
	return ""
}

func matchBrand(s string) string {
	for _, brand := range brandTokens {
		if strings.Contains(s, brand) {
			return brand
		}
	}
	return ""
}

func matchFreeHosting(host string) string {
	for _, suffix := range freeHostingSuffixes {
		if strings.HasSuffix(host, suffix) {
			return strings.TrimPrefix(suffix, ".")
		}
	}
	return ""
}

func matchPathKeywords(path string) []string {
	var found []string
	for _, kw := range phishingPathKeywords {
		if strings.Contains(path, kw) {
			found = append(found, kw)
		}
	}
	return found
}
