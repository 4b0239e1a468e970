package schemas

import (
	"strings"
	"time"
)

// -- Threat Intelligence Schemas --

// IndicatorType classifies a threat indicator's value.
type IndicatorType string

const (
	IndicatorURL           IndicatorType = "url"
	IndicatorDomain        IndicatorType = "domain"
	IndicatorIP            IndicatorType = "ip"
	IndicatorHash          IndicatorType = "hash"
	IndicatorVulnerability IndicatorType = "vulnerability"
)

// ThreatIndicator is a single normalized piece of external threat
// intelligence. (Type, NormalizedValue) is the dedup key across all sources.
type ThreatIndicator struct {
	Type            IndicatorType     `json:"type"`
	Value           string            `json:"value"`
	NormalizedValue string            `json:"normalized_value"`
	Severity        Severity          `json:"severity"`
	Confidence      int               `json:"confidence"` // 0-100
	SourceID        string            `json:"source_id"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	Tags            map[string]bool   `json:"tags,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Active          bool              `json:"active"`
}

// NormalizeIndicatorValue canonicalizes a raw indicator value for the dedup
// key: lowercased, trimmed, scheme and trailing slash stripped for URLs and
// domains.
func NormalizeIndicatorValue(t IndicatorType, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch t {
	case IndicatorURL, IndicatorDomain:
		v = strings.TrimPrefix(v, "https://")
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "www.")
		v = strings.TrimSuffix(v, "/")
	}
	return v
}

// Merge folds other into the receiver under the canonical dedup rule: keep
// the higher severity and confidence, union tags, preserve the earliest
// FirstSeen and latest LastSeen. Metadata keys already present win; new keys
// are adopted. Either record being active keeps the merged record active.
func (t *ThreatIndicator) Merge(other ThreatIndicator) {
	t.Severity = t.Severity.Max(other.Severity)
	if other.Confidence > t.Confidence {
		t.Confidence = other.Confidence
	}
	if !other.FirstSeen.IsZero() && (t.FirstSeen.IsZero() || other.FirstSeen.Before(t.FirstSeen)) {
		t.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(t.LastSeen) {
		t.LastSeen = other.LastSeen
	}
	if len(other.Tags) > 0 {
		if t.Tags == nil {
			t.Tags = make(map[string]bool, len(other.Tags))
		}
		for tag := range other.Tags {
			t.Tags[tag] = true
		}
	}
	for k, v := range other.Metadata {
		if t.Metadata == nil {
			t.Metadata = make(map[string]string, len(other.Metadata))
		}
		if _, exists := t.Metadata[k]; !exists {
			t.Metadata[k] = v
		}
	}
	t.Active = t.Active || other.Active
}

// SourceConfig declares one external threat-intel feed. The aggregator treats
// this as read-only configuration, not state it owns.
type SourceConfig struct {
	Name                 string `json:"name" mapstructure:"name"`
	URL                  string `json:"url" mapstructure:"url"`
	Method               string `json:"method" mapstructure:"method"`
	Format               string `json:"format" mapstructure:"format"` // "json" or "lines"
	SyncFrequencyMinutes int    `json:"sync_frequency_minutes" mapstructure:"sync_frequency_minutes"`
	AuthHeaderName       string `json:"auth_header_name,omitempty" mapstructure:"auth_header_name"`
	EnvVarName           string `json:"env_var_name,omitempty" mapstructure:"env_var_name"`
	Enabled              bool   `json:"enabled" mapstructure:"enabled"`
	Priority             int    `json:"priority" mapstructure:"priority"`

	// IndicatorType applies to line-format feeds where the type is implied
	// by the feed rather than carried per record.
	IndicatorType IndicatorType `json:"indicator_type,omitempty" mapstructure:"indicator_type"`
}

// SyncReport summarizes one sync cycle for one source. A malformed record is
// counted in Errors and skipped; it never aborts the batch.
type SyncReport struct {
	SourceID  string    `json:"source_id"`
	Processed int       `json:"processed"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Errors    int       `json:"errors"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
