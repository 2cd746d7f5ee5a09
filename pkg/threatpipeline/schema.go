package threatpipeline

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Levels, ordered least to most severe, per §3's Threat invariant.
const (
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

var levelRank = map[string]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// levelAtLeast reports whether level is at or above threshold in severity.
// Unknown levels rank below everything, so an invalid level never satisfies
// the materialization threshold.
func levelAtLeast(level, threshold string) bool {
	lr, ok := levelRank[level]
	if !ok {
		return false
	}
	return lr >= levelRank[threshold]
}

var threatTypes = map[string]bool{
	"VIOLENCE":          true,
	"TERRORISM":         true,
	"NATURAL_DISASTER":  true,
	"CIVIL_UNREST":      true,
	"INFRASTRUCTURE":    true,
	"CYBER":             true,
	"HEALTH_EMERGENCY":  true,
}

// Location is one geocoded reference point within an analysis, per §6.3.
type Location struct {
	Lat             float64  `json:"lat"`
	Lng             float64  `json:"lng"`
	Name            *string  `json:"name,omitempty"`
	Confidence      float64  `json:"confidence"`
	Source          string   `json:"source"`
	RadiusKM        *float64 `json:"radius_km,omitempty"`
	AreaDescription *string  `json:"area_description,omitempty"`
}

// Analysis is one entry of the threat-array JSON the LLM returns, per §6.3.
type Analysis struct {
	ThreatLevel     string     `json:"threat_level"`
	ThreatType      string     `json:"threat_type"`
	ConfidenceScore float64    `json:"confidence_score"`
	Summary         string     `json:"summary"`
	Locations       []Location `json:"locations"`
	Keywords        []string   `json:"keywords"`
	Reasoning       string     `json:"reasoning"`
	Citations       []string   `json:"citations"`
}

// validateAnalysis rejects analyses missing required fields, with
// out-of-range confidence, an invalid enum value, or non-finite
// coordinates, per §4.6 step 3.
func validateAnalysis(a Analysis) error {
	if a.ThreatLevel == "" || a.ThreatType == "" || a.Summary == "" {
		return fmt.Errorf("missing required field (threat_level, threat_type, or summary)")
	}
	if _, ok := levelRank[a.ThreatLevel]; !ok {
		return fmt.Errorf("invalid threat_level %q", a.ThreatLevel)
	}
	if !threatTypes[a.ThreatType] {
		return fmt.Errorf("invalid threat_type %q", a.ThreatType)
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v out of range [0,1]", a.ConfidenceScore)
	}
	for i, loc := range a.Locations {
		if math.IsNaN(loc.Lat) || math.IsInf(loc.Lat, 0) || math.IsNaN(loc.Lng) || math.IsInf(loc.Lng, 0) {
			return fmt.Errorf("location[%d] has non-finite coordinates", i)
		}
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			return fmt.Errorf("location[%d] coordinates out of range", i)
		}
	}
	return nil
}

// DedupAction is the outcome of the §4.6 step 5 deduplication ladder.
type DedupAction string

const (
	ActionNewThreat      DedupAction = "new_threat"
	ActionUpdateExisting DedupAction = "update_existing"
	ActionDuplicate      DedupAction = "duplicate"
)

// ThreatOverride carries the fields a dedup decision (or, for new_threat,
// the model) chooses to override on top of the original analysis. A nil
// slice/pointer field means "not provided" — the commit step preserves the
// original or current value instead, per §4.6 step 6.
type ThreatOverride struct {
	Level     *string    `json:"level,omitempty"`
	Type      *string    `json:"type,omitempty"`
	Summary   *string    `json:"summary,omitempty"`
	Keywords  []string   `json:"keywords,omitempty"`
	Locations []Location `json:"locations,omitempty"`
	Citations []string   `json:"citations,omitempty"`
}

// DedupDecision is the strict response shape the contextual arbitration
// model must return, per §4.6 step 5.
type DedupDecision struct {
	Action     DedupAction     `json:"action"`
	ThreatID   *uuid.UUID      `json:"threat_id,omitempty"`
	ThreatData *ThreatOverride `json:"threat_data,omitempty"`
	UpdateData *ThreatOverride `json:"update_data,omitempty"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
}

// validateDecision enforces §4.6 step 5's per-action field requirements.
func validateDecision(d DedupDecision) error {
	switch d.Action {
	case ActionUpdateExisting:
		if d.ThreatID == nil {
			return fmt.Errorf("update_existing requires threat_id")
		}
		if d.UpdateData == nil {
			return fmt.Errorf("update_existing requires update_data")
		}
	case ActionNewThreat:
		if d.ThreatData == nil {
			return fmt.Errorf("new_threat requires threat_data")
		}
	case ActionDuplicate:
		// No additional fields required.
	default:
		return fmt.Errorf("unrecognized action %q", d.Action)
	}
	return nil
}
