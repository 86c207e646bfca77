package tenant

import "github.com/wardenlabs/llm-warden/internal/rules"

// Global preset policy ids. These three presets ship with every deployment
// and are immutable.
const (
	PresetMonitorID  = "preset-monitor"
	PresetBalancedID = "preset-balanced"
	PresetStrictID   = "preset-strict"
)

// DefaultPolicyID is the system default when nothing else resolves.
const DefaultPolicyID = PresetBalancedID

// presets are returned by value so callers cannot mutate the shipped
// configuration.
var presets = map[string]Policy{
	PresetMonitorID: {
		ID:              PresetMonitorID,
		Mode:            ModeMonitor,
		BlockingEnabled: false,
		L2Enabled:       true,
		// Monitor mode observes everything the scorer flags.
		L2ThreatThreshold: 0.5,
		TelemetryDetail:   TelemetryVerbose,
		Version:           1,
	},
	PresetBalancedID: {
		ID:                       PresetBalancedID,
		Mode:                     ModeBalanced,
		BlockingEnabled:          true,
		BlockSeverityThreshold:   rules.SeverityHigh,
		BlockConfidenceThreshold: 0.85,
		L2Enabled:                true,
		L2ThreatThreshold:        0.7,
		TelemetryDetail:          TelemetryStandard,
		Version:                  1,
	},
	PresetStrictID: {
		ID:                       PresetStrictID,
		Mode:                     ModeStrict,
		BlockingEnabled:          true,
		BlockSeverityThreshold:   rules.SeverityMedium,
		BlockConfidenceThreshold: 0.5,
		L2Enabled:                true,
		L2ThreatThreshold:        0.5,
		TelemetryDetail:          TelemetryStandard,
		Version:                  1,
	},
}

// Preset returns a copy of the named global preset.
func Preset(id string) (*Policy, bool) {
	p, ok := presets[id]
	if !ok {
		return nil, false
	}
	return &p, true
}

// PresetByMode returns the preset matching a mode, if any.
func PresetByMode(mode Mode) (*Policy, bool) {
	for _, p := range presets {
		if p.Mode == mode {
			cp := p
			return &cp, true
		}
	}
	return nil, false
}
