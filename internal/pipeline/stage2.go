// File: internal/pipeline/stage2.go
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/collectors"
	"github.com/elara-sec/verdict/internal/metrics"
)

// Stage-2 is the expensive tier: persuasion analysis over the rendered page
// text plus a multi-model AI consensus. It only runs when Stage-1 was not
// confident enough.

// persuasionKeywords are pressure-tactic phrases that cluster in social
// engineering copy.
var persuasionKeywords = []string{
	"urgent", "immediately", "act now", "verify your account",
	"suspended", "unusual activity", "confirm your identity",
	"limited time", "within 24 hours", "your account will be",
	"click here", "final notice", "security alert", "unauthorized",
}

var tagStripRe = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)

const stage2SystemPrompt = `You are a URL risk analyst. Given evidence about a web page, estimate the probability (0.0 to 1.0) that it is malicious (phishing, malware delivery, or scam). Respond with JSON only: {"probability": <float>, "verdict": "<one sentence>"}.`

// aiJudgment is the JSON shape each consensus model must return.
type aiJudgment struct {
	Probability float64 `json:"probability"`
	Verdict     string  `json:"verdict"`
}

type stage2Runner struct {
	logger          *zap.Logger
	llm             schemas.LLMClient
	consensusModels int
}

// run produces the Stage-2 output. Individual AI model failures are skipped;
// an error return means the whole stage failed and the caller must fall back
// to Stage-1.
func (s *stage2Runner) run(ctx context.Context, target *collectors.Target, evidence schemas.EvidenceSummary) (*schemas.StageOutput, error) {
	pageText := ""
	if target.Snapshot != nil {
		pageText = extractText(target.Snapshot.DOM)
	}

	signals := map[string]float64{}
	if pageText != "" {
		signals["text_persuasion"] = textPersuasion(pageText)
	}

	judgments := s.consensusJudgments(ctx, target, evidence, pageText)
	if len(judgments) == 0 && pageText == "" {
		return nil, fmt.Errorf("no rendered text and all consensus models failed")
	}

	var probability, confidence float64
	switch {
	case len(judgments) > 0 && pageText != "":
		aiMedian, spread := medianAndSpread(judgments)
		signals["ai_consensus"] = aiMedian
		probability = 0.4*signals["text_persuasion"] + 0.6*aiMedian
		confidence = (1 - spread) * float64(len(judgments)) / float64(s.consensusModels)
	case len(judgments) > 0:
		aiMedian, spread := medianAndSpread(judgments)
		signals["ai_consensus"] = aiMedian
		probability = aiMedian
		confidence = (1 - spread) * float64(len(judgments)) / float64(s.consensusModels)
	default:
		// Text-only: deterministic but shallow.
		probability = signals["text_persuasion"]
		confidence = 0.3
	}

	return &schemas.StageOutput{
		Probability: clamp01(probability),
		Confidence:  clamp01(confidence),
		Signals:     signals,
	}, nil
}

// consensusJudgments fans out N parallel model calls and keeps whatever
// succeeded. Failures are logged and dropped, never fatal here.
func (s *stage2Runner) consensusJudgments(ctx context.Context, target *collectors.Target, evidence schemas.EvidenceSummary, pageText string) []float64 {
	if s.llm == nil || s.consensusModels <= 0 {
		return nil
	}

	userPrompt := buildJudgmentPrompt(target, evidence, pageText)

	var (
		mu      sync.Mutex
		results []float64
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.consensusModels; i++ {
		g.Go(func() error {
			raw, err := s.llm.Generate(gctx, schemas.GenerationRequest{
				SystemPrompt: stage2SystemPrompt,
				UserPrompt:   userPrompt,
				Tier:         schemas.TierFast,
				Options: schemas.GenerationOptions{
					Temperature:     0.4,
					ForceJSONFormat: true,
				},
			})
			if err != nil {
				metrics.LLMRequests.WithLabelValues(string(schemas.TierFast), "error").Inc()
				s.logger.Warn("Consensus model call failed; skipping.", zap.Error(err))
				return nil
			}
			metrics.LLMRequests.WithLabelValues(string(schemas.TierFast), "ok").Inc()

			var judgment aiJudgment
			if err := json.Unmarshal([]byte(raw), &judgment); err != nil {
				s.logger.Warn("Consensus model returned unparseable JSON; skipping.", zap.Error(err))
				return nil
			}
			if judgment.Probability < 0 || judgment.Probability > 1 {
				s.logger.Warn("Consensus model probability out of range; skipping.",
					zap.Float64("probability", judgment.Probability))
				return nil
			}

			mu.Lock()
			results = append(results, judgment.Probability)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func buildJudgmentPrompt(target *collectors.Target, evidence schemas.EvidenceSummary, pageText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", target.Raw)
	fmt.Fprintf(&b, "Domain: %s\n", target.Domain)
	fmt.Fprintf(&b, "Domain age (days): %d (known: %t)\n", evidence.DomainAgeDays, evidence.DomainAgeKnown)
	fmt.Fprintf(&b, "Valid TLS: %t\n", evidence.TLSValid)
	fmt.Fprintf(&b, "Threat-intel hits: %d\n", evidence.TIHits)
	fmt.Fprintf(&b, "Login form: %t, posts off-origin: %t\n", evidence.HasLoginForm, evidence.FormOriginMismatch)
	fmt.Fprintf(&b, "Automatic download: %t\n", evidence.AutoDownload)
	if pageText != "" {
		if len(pageText) > 4000 {
			pageText = pageText[:4000]
		}
		fmt.Fprintf(&b, "\nPage text:\n%s\n", pageText)
	}
	return b.String()
}

// textPersuasion scores pressure-tactic density in the page copy.
func textPersuasion(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range persuasionKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	// Four distinct pressure phrases saturate the signal.
	return clamp01(float64(hits) / 4)
}

func extractText(dom string) string {
	text := tagStripRe.ReplaceAllString(dom, " ")
	return strings.Join(strings.Fields(text), " ")
}

// medianAndSpread returns the median probability and the max-min spread of
// the successful judgments.
func medianAndSpread(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return median, sorted[n-1] - sorted[0]
}
