// File: internal/intel/sources.go
package intel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/elara-sec/verdict/api/schemas"
)

const feedBodyLimit = 64 * 1024 * 1024

// feedRecord is the shape of one entry in a JSON-format feed. Only value is
// required; everything else has a sane default.
type feedRecord struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Severity   string   `json:"severity"`
	Confidence int      `json:"confidence"`
	Tags       []string `json:"tags"`
	FirstSeen  string   `json:"first_seen"`
	LastSeen   string   `json:"last_seen"`
}

// fetchFeed downloads one source's raw body with retry on transient failures.
// HTTP 4xx is permanent for the cycle; 5xx and transport errors retry with
// exponential backoff until ctx expires.
func fetchFeed(ctx context.Context, client *http.Client, src schemas.SourceConfig) ([]byte, error) {
	method := src.Method
	if method == "" {
		method = http.MethodGet
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, src.URL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("building feed request: %w", err))
		}
		if src.AuthHeaderName != "" && src.EnvVarName != "" {
			if secret := os.Getenv(src.EnvVarName); secret != "" {
				req.Header.Set(src.AuthHeaderName, secret)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching feed %s: %w", src.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("feed %s rejected the request: %s", src.Name, resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("feed %s returned %s", src.Name, resp.Status)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, feedBodyLimit))
		if err != nil {
			return nil, fmt.Errorf("reading feed %s: %w", src.Name, err)
		}
		return body, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.RetryWithData(operation, policy)
}

// parseFeed turns a raw feed body into normalized indicators. Malformed
// records are counted and skipped, never fatal for the batch.
func parseFeed(src schemas.SourceConfig, body []byte, now time.Time) ([]schemas.ThreatIndicator, int) {
	switch strings.ToLower(src.Format) {
	case "lines":
		return parseLineFeed(src, body, now)
	default:
		return parseJSONFeed(src, body, now)
	}
}

func parseJSONFeed(src schemas.SourceConfig, body []byte, now time.Time) ([]schemas.ThreatIndicator, int) {
	var records []feedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		// An undecodable body counts as one error; nothing is salvageable.
		return nil, 1
	}

	var (
		indicators []schemas.ThreatIndicator
		malformed  int
	)
	for _, rec := range records {
		in, ok := recordToIndicator(src, rec, now)
		if !ok {
			malformed++
			continue
		}
		indicators = append(indicators, in)
	}
	return indicators, malformed
}

func parseLineFeed(src schemas.SourceConfig, body []byte, now time.Time) ([]schemas.ThreatIndicator, int) {
	indicatorType := src.IndicatorType
	if indicatorType == "" {
		indicatorType = schemas.IndicatorDomain
	}

	var (
		indicators []schemas.ThreatIndicator
		malformed  int
	)
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			malformed++
			continue
		}
		indicators = append(indicators, buildIndicator(src, indicatorType, line, schemas.SeverityMedium, 50, nil, now, now))
	}
	return indicators, malformed
}

func recordToIndicator(src schemas.SourceConfig, rec feedRecord, now time.Time) (schemas.ThreatIndicator, bool) {
	if strings.TrimSpace(rec.Value) == "" {
		return schemas.ThreatIndicator{}, false
	}

	indicatorType := schemas.IndicatorType(strings.ToLower(rec.Type))
	if indicatorType == "" {
		indicatorType = src.IndicatorType
	}
	switch indicatorType {
	case schemas.IndicatorURL, schemas.IndicatorDomain, schemas.IndicatorIP,
		schemas.IndicatorHash, schemas.IndicatorVulnerability:
	default:
		return schemas.ThreatIndicator{}, false
	}

	severity := schemas.Severity(strings.ToLower(rec.Severity))
	if severity.Rank() < 0 {
		severity = schemas.SeverityMedium
	}
	confidence := rec.Confidence
	if confidence <= 0 || confidence > 100 {
		confidence = 50
	}

	firstSeen := parseFeedTime(rec.FirstSeen, now)
	lastSeen := parseFeedTime(rec.LastSeen, now)

	var tags map[string]bool
	if len(rec.Tags) > 0 {
		tags = make(map[string]bool, len(rec.Tags))
		for _, tag := range rec.Tags {
			tags[strings.ToLower(strings.TrimSpace(tag))] = true
		}
	}

	return buildIndicator(src, indicatorType, rec.Value, severity, confidence, tags, firstSeen, lastSeen), true
}

func buildIndicator(src schemas.SourceConfig, t schemas.IndicatorType, value string,
	severity schemas.Severity, confidence int, tags map[string]bool, firstSeen, lastSeen time.Time) schemas.ThreatIndicator {
	return schemas.ThreatIndicator{
		Type:            t,
		Value:           value,
		NormalizedValue: schemas.NormalizeIndicatorValue(t, value),
		Severity:        severity,
		Confidence:      confidence,
		SourceID:        src.Name,
		FirstSeen:       firstSeen.UTC(),
		LastSeen:        lastSeen.UTC(),
		Tags:            tags,
		Active:          true,
	}
}

func parseFeedTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
