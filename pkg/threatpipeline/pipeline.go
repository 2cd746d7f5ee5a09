package threatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/errs"
	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/notify"
	"github.com/wisbric/tacops/pkg/store"
)

const (
	searchTimeout = 240 * time.Second
	dedupTimeout  = 30 * time.Second

	searchSystemPrompt = `You monitor real-time social and news activity for actionable safety threats in a specific geographic area. Return only specific, actionable incidents — not general commentary or speculation — as a JSON array of analyses. Each analysis must have: threat_level (LOW|MEDIUM|HIGH|CRITICAL), threat_type (VIOLENCE|TERRORISM|NATURAL_DISASTER|CIVIL_UNREST|INFRASTRUCTURE|CYBER|HEALTH_EMERGENCY), confidence_score (0-1), summary, locations (lat, lng, and optional name/confidence/source/radius_km/area_description), keywords, reasoning, and citations. Return an empty array if nothing actionable occurred in the requested window.`
)

// AdminBroadcaster fans a pipeline event out to every admin-authenticated
// realtime channel. The realtime gateway implements this; the pipeline
// never imports it directly, matching the dependency direction in §9.
type AdminBroadcaster interface {
	BroadcastAdmin(event string, payload any)
}

// PipelineStore is the slice of the persistence adapter the pipeline needs
// beyond what the Deduplicator already requires.
type PipelineStore interface {
	Store
	CreateThreat(ctx context.Context, p store.CreateThreatParams) (store.ThreatRow, error)
	GetThreat(ctx context.Context, id uuid.UUID) (store.ThreatRow, error)
	UpdateThreat(ctx context.Context, p store.UpdateThreatParams) (store.ThreatRow, error)
	InsertThreatAnnotation(ctx context.Context, p store.InsertThreatAnnotationParams) (store.ThreatAnnotationRow, error)
	InsertRunLog(ctx context.Context, p store.InsertRunLogParams) (store.RunLogRow, error)
	TrimRunLogs(ctx context.Context, monitorID uuid.UUID) (int64, error)
	InsertUsage(ctx context.Context, p store.InsertUsageParams) error
	TouchMonitorLastSearched(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Pipeline drives one monitor's tick end to end: search, validate, dedup,
// commit, materialize, and record bookkeeping. It swallows Upstream errors
// internally per §7's propagation rule — the monitor supervisor never sees
// a failed tick as an error, only as a no-op.
type Pipeline struct {
	store       PipelineStore
	dedup       *Deduplicator
	llm         *Client
	broadcaster AdminBroadcaster
	notifier    *notify.Notifier
	searchModel string
	logger      *slog.Logger
}

// New creates a Pipeline. notifier may be a disabled (no Slack token)
// *notify.Notifier; NotifyThreat is a noop in that case, so this package
// never needs to branch on whether Slack is configured.
func New(st PipelineStore, dedup *Deduplicator, llm *Client, broadcaster AdminBroadcaster, notifier *notify.Notifier, searchModel string, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: st, dedup: dedup, llm: llm, broadcaster: broadcaster, notifier: notifier, searchModel: searchModel, logger: logger}
}

// notifyThreat posts a best-effort Slack notification for a committed threat
// event, for operators not actively connected to the realtime gateway. It
// runs on its own background context so a slow or failing Slack call never
// delays the pipeline tick that triggered it.
func (p *Pipeline) notifyThreat(row store.ThreatRow, updated bool) {
	if p.notifier == nil || !p.notifier.IsEnabled() {
		return
	}
	event := notify.ThreatEventFromRow(row, updated)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.notifier.NotifyThreat(ctx, event); err != nil {
			p.logger.Warn("posting threat notification to slack failed", "threat_id", event.ThreatID, "error", err)
		}
	}()
}

// Tick runs one complete pipeline iteration for monitor, per §4.6.
func (p *Pipeline) Tick(ctx context.Context, monitor store.MonitorRow) error {
	if err := p.tick(ctx, monitor); err != nil {
		if errs.KindOf(err) == errs.Upstream {
			p.logger.Warn("threat pipeline tick failed with an upstream error, continuing to next tick",
				"monitor_id", monitor.ID, "area", monitor.Area, "error", err)
			return nil
		}
		return err
	}
	return nil
}

func (p *Pipeline) tick(ctx context.Context, monitor store.MonitorRow) error {
	now := time.Now().UTC()
	from, to := computeWindow(monitor.LastSearchedAt, now)

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	resp, requestPayload, err := p.search(searchCtx, monitor, from, to)
	cancel()
	if err != nil {
		return err
	}

	analyses, parseErr := parseAnalyses(resp.Text())
	valid := make([]Analysis, 0, len(analyses))
	for _, a := range analyses {
		if err := validateAnalysis(a); err != nil {
			p.logger.Warn("dropping invalid threat analysis", "area", monitor.Area, "error", err)
			continue
		}
		valid = append(valid, enrichCitations(a, resp.Citations))
	}

	toolCalls := countToolCalls(monitor)
	usageCost := EstimateCost(p.searchModel, resp.Usage.InputTokens, resp.Usage.OutputTokens) +
		float64(toolCalls)*socialStreamToolSurchargeUSD
	if err := p.store.InsertUsage(ctx, store.InsertUsageParams{
		Model:            p.searchModel,
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		EstimatedCostUSD: usageCost,
		CallType:         "search",
		MonitorID:        &monitor.ID,
	}); err != nil {
		p.logger.Warn("failed to record search usage entry", "error", err)
	}

	for _, a := range valid {
		if err := p.processAnalysis(ctx, monitor, a); err != nil {
			if errs.KindOf(err) == errs.Upstream {
				p.logger.Warn("dedup arbitration failed with an upstream error, skipping this analysis",
					"area", monitor.Area, "error", err)
				continue
			}
			return err
		}
	}

	citationsJSON, _ := json.Marshal(resp.Citations)
	rawResponse := resp.Text()
	if parseErr != nil {
		rawResponse = fmt.Sprintf("(unparseable response, %d raw bytes follow)\n%s", len(rawResponse), rawResponse)
	}
	if _, err := p.store.InsertRunLog(ctx, store.InsertRunLogParams{
		MonitorID:      monitor.ID,
		SystemPrompt:   searchSystemPrompt,
		UserPrompt:     searchUserPrompt(monitor, from, to),
		RawResponse:    rawResponse,
		ThreatsFound:   len(valid),
		Citations:      citationsJSON,
		RequestPayload: requestPayload,
	}); err != nil {
		p.logger.Warn("failed to record run log", "error", err)
	}
	if trimmed, err := p.store.TrimRunLogs(ctx, monitor.ID); err != nil {
		p.logger.Warn("failed to trim run logs", "error", err)
	} else if trimmed > 0 {
		telemetry.RunLogsTrimmedTotal.Add(float64(trimmed))
	}

	if err := p.store.TouchMonitorLastSearched(ctx, monitor.ID, now); err != nil {
		return fmt.Errorf("updating monitor last-searched: %w", err)
	}

	return nil
}

func (p *Pipeline) search(ctx context.Context, monitor store.MonitorRow, from, to time.Time) (*SearchResponse, json.RawMessage, error) {
	tools := []Tool{{Type: "social-stream-search", FromDate: from.Format(time.DateOnly), ToDate: to.Format(time.DateOnly)}}
	if len(monitor.AllowedDomains) > 0 {
		domains := monitor.AllowedDomains
		if len(domains) > 5 {
			domains = domains[:5]
		}
		tools = append(tools, Tool{Type: "web-search", AllowedDomains: domains})
	}

	req := SearchRequest{
		Model: p.searchModel,
		Input: []InputMessage{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: searchUserPrompt(monitor, from, to)},
		},
		Tools:      tools,
		ToolChoice: "auto",
		Text:       &TextFormat{Format: FormatSpec{Type: "json_schema"}},
	}

	requestPayload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling search request: %w", err)
	}

	resp, err := p.llm.Search(ctx, req)
	if err != nil {
		return nil, requestPayload, err
	}
	return resp, requestPayload, nil
}

func searchUserPrompt(monitor store.MonitorRow, from, to time.Time) string {
	focus := ""
	if monitor.TopicalFocus != nil && *monitor.TopicalFocus != "" {
		focus = " Topical focus: " + *monitor.TopicalFocus + "."
	}
	return fmt.Sprintf("Area: %s.%s Window: %s to %s.", monitor.Area, focus,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

// countToolCalls returns the number of real-time social-stream tool
// invocations the surcharge in §6.4 applies to. The social-stream tool is
// always included in the request; the optional web-search tool carries no
// surcharge of its own.
func countToolCalls(monitor store.MonitorRow) int {
	return 1
}

func parseAnalyses(text string) ([]Analysis, error) {
	var analyses []Analysis
	if err := json.Unmarshal([]byte(text), &analyses); err != nil {
		return nil, fmt.Errorf("parsing threat-array response: %w", err)
	}
	return analyses, nil
}

// enrichCitations prefers the provider's canonical citation list when
// non-empty; otherwise it keeps the model-supplied citations, and ensures
// the field is at minimum an empty list, per §4.6 step 4.
func enrichCitations(a Analysis, canonical []string) Analysis {
	if len(canonical) > 0 {
		a.Citations = canonical
	} else if a.Citations == nil {
		a.Citations = []string{}
	}
	return a
}

// processAnalysis runs steps 5-7 for a single validated analysis: decide,
// commit, and materialize.
func (p *Pipeline) processAnalysis(ctx context.Context, monitor store.MonitorRow, a Analysis) error {
	dedupCtx, cancel := context.WithTimeout(ctx, dedupTimeout)
	decision, existing, err := p.dedup.Decide(dedupCtx, monitor.Area, a)
	cancel()
	if err != nil {
		return err
	}

	outcome, row, materialize, err := p.commit(ctx, monitor.Area, a, decision, existing)
	if err != nil {
		return fmt.Errorf("committing dedup decision: %w", err)
	}
	if outcome == string(ActionDuplicate) {
		return nil
	}

	if materialize {
		if err := p.materialize(ctx, row); err != nil {
			p.logger.Warn("failed to materialize threat annotation", "threat_id", row.ID, "error", err)
		}
	}

	return nil
}

// commit applies §4.6 step 6's per-action persistence rules.
func (p *Pipeline) commit(ctx context.Context, area string, a Analysis, decision DedupDecision, existing []store.ThreatRow) (string, store.ThreatRow, bool, error) {
	switch decision.Action {
	case ActionDuplicate:
		telemetry.ThreatsDetectedTotal.WithLabelValues("duplicate").Inc()
		p.logger.Info("threat pipeline: duplicate", "area", area, "reasoning", decision.Reasoning)
		return string(ActionDuplicate), store.ThreatRow{}, false, nil

	case ActionNewThreat:
		level, typ, summary, keywords, locs, cits := mergeNewThreat(a, decision.ThreatData)
		locsJSON, err := json.Marshal(locs)
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}
		citsJSON, err := json.Marshal(cits)
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}
		hash := SemanticHash(level, typ, summary, keywords, locs)

		row, err := p.store.CreateThreat(ctx, store.CreateThreatParams{
			Level: level, Type: typ, Confidence: a.ConfidenceScore, Summary: summary,
			Locations: locsJSON, Keywords: keywords, Citations: citsJSON, Area: area, SemanticHash: hash,
		})
		if err != nil {
			return "", store.ThreatRow{}, false, fmt.Errorf("creating threat: %w", err)
		}
		if p.dedup != nil {
			p.dedup.MarkAreaActive(ctx, area)
		}
		telemetry.ThreatsDetectedTotal.WithLabelValues("new_threat").Inc()
		p.broadcaster.BroadcastAdmin("admin:new_threat_detected", row)
		p.notifyThreat(row, false)
		return string(ActionNewThreat), row, levelAtLeast(row.Level, LevelMedium) && len(locs) > 0, nil

	case ActionUpdateExisting:
		if decision.ThreatID == nil {
			return "", store.ThreatRow{}, false, fmt.Errorf("update_existing decision missing threat_id")
		}
		current, err := findThreat(ctx, p.store, existing, *decision.ThreatID)
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}

		level, typ, summary, keywords, locs, cits, changed := applyUpdateOverride(current, decision.UpdateData)
		locsJSON, err := json.Marshal(locs)
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}
		citsJSON, err := json.Marshal(cits)
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}

		hash := current.SemanticHash
		if containsAny(changed, "level", "type", "summary", "keywords") {
			hash = SemanticHash(level, typ, summary, keywords, locs)
		}

		entry, err := json.Marshal(updateHistoryEntry{
			Timestamp:      time.Now().UTC(),
			Reasoning:      decision.Reasoning,
			Changes:        changed,
			NewInformation: a.Summary,
		})
		if err != nil {
			return "", store.ThreatRow{}, false, err
		}

		row, err := p.store.UpdateThreat(ctx, store.UpdateThreatParams{
			ID: current.ID, Level: level, Type: typ, Confidence: current.Confidence, Summary: summary,
			Locations: locsJSON, Keywords: keywords, Citations: citsJSON, SemanticHash: hash, HistoryEntry: entry,
		})
		if err != nil {
			return "", store.ThreatRow{}, false, fmt.Errorf("updating threat: %w", err)
		}
		telemetry.ThreatsDetectedTotal.WithLabelValues("update_existing").Inc()
		p.broadcaster.BroadcastAdmin("admin:threat_updated", row)
		p.notifyThreat(row, true)
		return string(ActionUpdateExisting), row, levelAtLeast(row.Level, LevelMedium) && len(locs) > 0, nil

	default:
		return "", store.ThreatRow{}, false, fmt.Errorf("unrecognized dedup action %q", decision.Action)
	}
}

func findThreat(ctx context.Context, st PipelineStore, existing []store.ThreatRow, id uuid.UUID) (store.ThreatRow, error) {
	for _, t := range existing {
		if t.ID == id {
			return t, nil
		}
	}
	row, err := st.GetThreat(ctx, id)
	if err != nil {
		return store.ThreatRow{}, fmt.Errorf("reading threat %s for update: %w", id, err)
	}
	return row, nil
}

func containsAny(haystack []string, needles ...string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// mergeNewThreat merges the original analysis with any AI-returned
// overrides, preserving original citations/locations if the override
// omits them, per §4.6 step 6.
func mergeNewThreat(a Analysis, override *ThreatOverride) (level, typ, summary string, keywords []string, locations []Location, citations []string) {
	level, typ, summary = a.ThreatLevel, a.ThreatType, a.Summary
	keywords, locations, citations = a.Keywords, a.Locations, a.Citations

	if override == nil {
		return
	}
	if override.Level != nil {
		level = *override.Level
	}
	if override.Type != nil {
		typ = *override.Type
	}
	if override.Summary != nil {
		summary = *override.Summary
	}
	if len(override.Keywords) > 0 {
		keywords = override.Keywords
	}
	if len(override.Locations) > 0 {
		locations = override.Locations
	}
	if len(override.Citations) > 0 {
		citations = override.Citations
	}
	return
}

type updateHistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Reasoning      string    `json:"reasoning"`
	Changes        []string  `json:"changes"`
	NewInformation string    `json:"new_information"`
}

// applyUpdateOverride writes only the fields update_data provided, leaving
// everything else at the current row's value, per §4.6 step 6. It reports
// which top-level fields changed so the caller can decide whether to
// recompute the semantic hash.
func applyUpdateOverride(current store.ThreatRow, override *ThreatOverride) (level, typ, summary string, keywords []string, locations []Location, citations []string, changed []string) {
	level, typ, summary = current.Level, current.Type, current.Summary
	keywords = current.Keywords

	_ = json.Unmarshal(current.Locations, &locations)
	_ = json.Unmarshal(current.Citations, &citations)

	if override == nil {
		return
	}
	if override.Level != nil && *override.Level != level {
		level = *override.Level
		changed = append(changed, "level")
	}
	if override.Type != nil && *override.Type != typ {
		typ = *override.Type
		changed = append(changed, "type")
	}
	if override.Summary != nil && *override.Summary != summary {
		summary = *override.Summary
		changed = append(changed, "summary")
	}
	if len(override.Keywords) > 0 {
		keywords = override.Keywords
		changed = append(changed, "keywords")
	}
	if len(override.Locations) > 0 {
		locations = override.Locations
		changed = append(changed, "locations")
	}
	if len(override.Citations) > 0 {
		citations = override.Citations
	}
	return
}

// materialize inserts a threat annotation for the row's first location,
// per §4.6 step 7's "level ≥ MEDIUM and at least one location" rule.
func (p *Pipeline) materialize(ctx context.Context, row store.ThreatRow) error {
	var locs []Location
	if err := json.Unmarshal(row.Locations, &locs); err != nil || len(locs) == 0 {
		return fmt.Errorf("threat has no materializable locations: %w", err)
	}
	loc := locs[0]
	name := row.Summary
	if loc.Name != nil && *loc.Name != "" {
		name = *loc.Name
	}

	_, err := p.store.InsertThreatAnnotation(ctx, store.InsertThreatAnnotationParams{
		ThreatID: row.ID, Latitude: loc.Lat, Longitude: loc.Lng,
		Level: row.Level, Type: row.Type, Title: name, Description: row.Summary,
	})
	return err
}
