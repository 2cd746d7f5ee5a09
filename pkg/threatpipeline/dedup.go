package threatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/store"
)

const (
	// recentThreatTTL mirrors the 24h window the ladder's fast path checks.
	recentThreatTTL     = 24 * time.Hour
	recentThreatKeyBase = "threat:recent:"

	// proximityKM is the distance under which two locations are treated as
	// referring to the same place for rule-based matching, per §4.6 step 5.
	proximityKM = 1.0

	// recentThreatsWindowHours bounds both the fast-path check and the
	// rule-based/arbitration candidate set.
	recentThreatsWindowHours = 24

	// arbitrationContextLimit caps how many existing threats are sent to
	// the contextual arbitration model, per §4.6 step 5.
	arbitrationContextLimit = 10

	// arbitrationSummaryTruncate is the per-threat summary length sent to
	// the arbitration model.
	arbitrationSummaryTruncate = 150
)

func recentThreatKey(area string) string {
	return recentThreatKeyBase + area
}

// Deduplicator runs the three-stage deduplication ladder from §4.6 step 5:
// a Redis-backed fast path, a rule-based pre-filter, and contextual LLM
// arbitration as the final fallback. The fast path and its Redis-first,
// store-fallback cache shape are grounded in the teacher's
// pkg/alert/dedup.go; the try-stage-then-fall-back result composition
// mirrors pkg/alert/enrich.go.
type Deduplicator struct {
	redis      *redis.Client
	store      Store
	llm        *Client
	dedupModel string
	logger     *slog.Logger
}

// Store is the slice of the persistence adapter the dedup ladder needs.
type Store interface {
	RecentThreatsByArea(ctx context.Context, area string, sinceHours int) ([]store.ThreatRow, error)
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(rdb *redis.Client, st Store, llm *Client, dedupModel string, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{redis: rdb, store: st, llm: llm, dedupModel: dedupModel, logger: logger}
}

// Decide runs the deduplication ladder for one validated analysis within
// area, returning the decision and the candidate set it was evaluated
// against (for commit-time lookups such as update_existing's threat_id).
func (d *Deduplicator) Decide(ctx context.Context, area string, a Analysis) (DedupDecision, []store.ThreatRow, error) {
	existing, hasAny, err := d.recentThreats(ctx, area)
	if err != nil {
		return DedupDecision{}, nil, err
	}

	if !hasAny {
		telemetry.ThreatDedupDecisionsTotal.WithLabelValues("fast_path", "new_threat").Inc()
		return DedupDecision{Action: ActionNewThreat, Reasoning: "no threats recorded for area within 24h", Confidence: 1}, nil, nil
	}

	if decision, ok := ruleBasedMatch(a, existing); ok {
		telemetry.ThreatDedupDecisionsTotal.WithLabelValues("rule_based", string(decision.Action)).Inc()
		return decision, existing, nil
	}

	decision, err := d.arbitrate(ctx, area, a, existing)
	if err != nil {
		return DedupDecision{}, nil, err
	}
	telemetry.ThreatDedupDecisionsTotal.WithLabelValues("arbitration", string(decision.Action)).Inc()
	return decision, existing, nil
}

// recentThreats reports whether any threat exists for area within 24h,
// fetching the candidate rows whenever the answer is yes. The Redis flag
// caches only the boolean; rule matching always reads the actual rows from
// the store once the flag (or a cache miss confirmed against the store)
// says there is something to compare against.
func (d *Deduplicator) recentThreats(ctx context.Context, area string) ([]store.ThreatRow, bool, error) {
	key := recentThreatKey(area)

	cached, err := d.redis.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn("redis recent-threat lookup failed, falling back to store", "error", err, "area", area)
	} else if cached > 0 {
		rows, err := d.store.RecentThreatsByArea(ctx, area, recentThreatsWindowHours)
		if err != nil {
			return nil, false, fmt.Errorf("listing recent threats for %q: %w", area, err)
		}
		return rows, len(rows) > 0, nil
	}

	rows, err := d.store.RecentThreatsByArea(ctx, area, recentThreatsWindowHours)
	if err != nil {
		return nil, false, fmt.Errorf("listing recent threats for %q: %w", area, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	if err := d.redis.Set(ctx, key, "1", recentThreatTTL).Err(); err != nil {
		d.logger.Warn("failed to warm recent-threat cache", "error", err, "area", area)
	}
	return rows, true, nil
}

// MarkAreaActive refreshes the fast-path cache after committing a
// new_threat decision, so the next tick's fast path sees it without a
// store round-trip.
func (d *Deduplicator) MarkAreaActive(ctx context.Context, area string) {
	if err := d.redis.Set(ctx, recentThreatKey(area), "1", recentThreatTTL).Err(); err != nil {
		d.logger.Warn("failed to mark area active in recent-threat cache", "error", err, "area", area)
	}
}

// ruleBasedMatch applies §4.6 step 5's rule-based pre-filter. The first
// existing threat matching any rule wins; there is no scoring across
// multiple matches.
func ruleBasedMatch(a Analysis, existing []store.ThreatRow) (DedupDecision, bool) {
	hash := SemanticHash(a.ThreatLevel, a.ThreatType, a.Summary, a.Keywords, a.Locations)
	aPrefix := normalizedPrefix(a.Summary)

	for _, t := range existing {
		if a.ThreatLevel == t.Level && a.ThreatType == t.Type && hash == t.SemanticHash {
			return duplicateDecision(t, "identical level, type, and semantic hash"), true
		}

		tPrefix := normalizedPrefix(t.Summary)
		if prefixesMatch(aPrefix, tPrefix) {
			return duplicateDecision(t, "matching normalized summary prefix"), true
		}

		if sharedKeywordCount(a.Keywords, t.Keywords) >= requiredSharedKeywords(a.Keywords, t.Keywords) {
			return duplicateDecision(t, "sufficient shared keywords"), true
		}

		if locationsWithinProximity(a.Locations, t.Locations) {
			return duplicateDecision(t, "location within 1km of an existing threat"), true
		}
	}

	return DedupDecision{}, false
}

func duplicateDecision(t store.ThreatRow, reasoning string) DedupDecision {
	id := t.ID
	return DedupDecision{Action: ActionDuplicate, ThreatID: &id, Reasoning: reasoning, Confidence: 1}
}

// normalizedPrefix lowercases, collapses whitespace, and truncates to 80
// characters, per §4.6 step 5's rule-based prefix rule.
func normalizedPrefix(s string) string {
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// prefixesMatch reports whether two normalized prefixes are equal, or
// mutually contained when both are at least 30 characters.
func prefixesMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= 30 && len(b) >= 30 {
		return strings.Contains(a, b) || strings.Contains(b, a)
	}
	return false
}

func sharedKeywordCount(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, k := range b {
		set[strings.ToLower(k)] = struct{}{}
	}
	count := 0
	for _, k := range a {
		if _, ok := set[strings.ToLower(k)]; ok {
			count++
		}
	}
	return count
}

// requiredSharedKeywords is 2, lowered to 1 when either set has fewer than
// 2 keywords, per §4.6 step 5.
func requiredSharedKeywords(a, b []string) int {
	if len(a) < 2 || len(b) < 2 {
		return 1
	}
	return 2
}

func locationsWithinProximity(analysisLocs []Location, existingLocsJSON json.RawMessage) bool {
	var existingLocs []Location
	if len(existingLocsJSON) == 0 {
		return false
	}
	if err := json.Unmarshal(existingLocsJSON, &existingLocs); err != nil {
		return false
	}
	for _, a := range analysisLocs {
		for _, e := range existingLocs {
			if haversineKM(a.Lat, a.Lng, e.Lat, e.Lng) <= proximityKM {
				return true
			}
		}
	}
	return false
}

// haversineKM returns the great-circle distance between two points, in
// kilometers.
func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	sa := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(sa), math.Sqrt(1-sa))
	return earthRadiusKM * c
}

// arbitrationThreat is the slimmed existing-threat shape sent to the
// contextual arbitration model: no citations, truncated summary.
type arbitrationThreat struct {
	ID          string   `json:"id"`
	Level       string   `json:"level"`
	Type        string   `json:"type"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
	UpdateCount int      `json:"update_count"`
}

// arbitrate sends a slimmed context of up to 10 existing threats to the
// configured deduplication model and parses its decision, per §4.6 step 5.
// A parse failure falls back to new_threat at confidence 0.5 rather than
// failing the tick.
func (d *Deduplicator) arbitrate(ctx context.Context, area string, a Analysis, existing []store.ThreatRow) (DedupDecision, error) {
	candidates := existing
	if len(candidates) > arbitrationContextLimit {
		candidates = candidates[:arbitrationContextLimit]
	}

	slimmed := make([]arbitrationThreat, len(candidates))
	for i, t := range candidates {
		summary := t.Summary
		if len(summary) > arbitrationSummaryTruncate {
			summary = summary[:arbitrationSummaryTruncate]
		}
		slimmed[i] = arbitrationThreat{
			ID:          t.ID.String(),
			Level:       t.Level,
			Type:        t.Type,
			Summary:     summary,
			Keywords:    t.Keywords,
			UpdateCount: t.UpdateCount,
		}
	}

	contextJSON, err := json.Marshal(struct {
		Area             string               `json:"area"`
		Analysis         Analysis             `json:"analysis"`
		ExistingThreats  []arbitrationThreat  `json:"existing_threats"`
	}{Area: area, Analysis: a, ExistingThreats: slimmed})
	if err != nil {
		return DedupDecision{}, fmt.Errorf("marshaling arbitration context: %w", err)
	}

	req := SearchRequest{
		Model: d.dedupModel,
		Input: []InputMessage{
			{Role: "system", Content: arbitrationSystemPrompt},
			{Role: "user", Content: string(contextJSON)},
		},
	}

	resp, err := d.llm.Dedupe(ctx, req)
	if err != nil {
		return DedupDecision{}, err
	}

	var decision DedupDecision
	if err := json.Unmarshal([]byte(resp.Text()), &decision); err != nil {
		d.logger.Warn("arbitration response failed to parse, defaulting to new_threat", "error", err)
		return DedupDecision{Action: ActionNewThreat, Reasoning: "arbitration response unparseable", Confidence: 0.5}, nil
	}
	if err := validateDecision(decision); err != nil {
		d.logger.Warn("arbitration response failed validation, defaulting to new_threat", "error", err)
		return DedupDecision{Action: ActionNewThreat, Reasoning: "arbitration response invalid: " + err.Error(), Confidence: 0.5}, nil
	}

	return decision, nil
}

const arbitrationSystemPrompt = `You are deciding whether a newly reported threat analysis duplicates, updates, or is distinct from a list of recently recorded threats in the same area. Respond with strictly {"action": "new_threat"|"update_existing"|"duplicate", "threat_id"?: string, "threat_data"?: object, "update_data"?: object, "reasoning": string, "confidence": number}. "update_existing" requires threat_id and update_data. "new_threat" requires threat_data.`
