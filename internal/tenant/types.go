// Package tenant resolves which policy configuration governs a scan, given
// optional app/tenant/partner context and explicit overrides.
package tenant

import (
	"errors"
	"fmt"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

// ErrEntityNotFound indicates a tenant, app, or policy id that does not
// exist. Resolution surfaces it to the caller: an unknown id is a
// security-relevant misconfiguration, not something to silently fall through.
var ErrEntityNotFound = errors.New("entity not found")

// Mode is a tenant policy's preset behavior class.
type Mode string

const (
	ModeMonitor  Mode = "monitor"
	ModeBalanced Mode = "balanced"
	ModeStrict   Mode = "strict"
	ModeCustom   Mode = "custom"
)

// TelemetryDetail controls how much a deployment reports per scan.
type TelemetryDetail string

const (
	TelemetryMinimal  TelemetryDetail = "minimal"
	TelemetryStandard TelemetryDetail = "standard"
	TelemetryVerbose  TelemetryDetail = "verbose"
)

// Policy is a mode-based policy preset. TenantID is empty for the global
// presets. Version increases monotonically on every update; policies are
// never mutated in place.
type Policy struct {
	ID                       string          `json:"policy_id" yaml:"policy_id"`
	TenantID                 string          `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Mode                     Mode            `json:"mode" yaml:"mode"`
	BlockingEnabled          bool            `json:"blocking_enabled" yaml:"blocking_enabled"`
	BlockSeverityThreshold   rules.Severity  `json:"block_severity_threshold" yaml:"block_severity_threshold"`
	BlockConfidenceThreshold float64         `json:"block_confidence_threshold" yaml:"block_confidence_threshold"`
	L2Enabled                bool            `json:"l2_enabled" yaml:"l2_enabled"`
	L2ThreatThreshold        float64         `json:"l2_threat_threshold" yaml:"l2_threat_threshold"`
	TelemetryDetail          TelemetryDetail `json:"telemetry_detail" yaml:"telemetry_detail"`
	Version                  int64           `json:"version" yaml:"version"`
}

// Validate checks policy invariants at construction time.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("tenant policy has empty id")
	}
	switch p.Mode {
	case ModeMonitor, ModeBalanced, ModeStrict, ModeCustom:
	default:
		return fmt.Errorf("policy %s: unknown mode %q", p.ID, p.Mode)
	}
	if p.BlockingEnabled && !p.BlockSeverityThreshold.Valid() {
		return fmt.Errorf("policy %s: unknown block_severity_threshold %q", p.ID, p.BlockSeverityThreshold)
	}
	if p.BlockConfidenceThreshold < 0 || p.BlockConfidenceThreshold > 1 {
		return fmt.Errorf("policy %s: block_confidence_threshold %v outside [0,1]", p.ID, p.BlockConfidenceThreshold)
	}
	if p.L2ThreatThreshold < 0 || p.L2ThreatThreshold > 1 {
		return fmt.Errorf("policy %s: l2_threat_threshold %v outside [0,1]", p.ID, p.L2ThreatThreshold)
	}
	return nil
}

// Tier is the tenant's service tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tenant is one customer account.
type Tenant struct {
	ID              string `json:"tenant_id" yaml:"tenant_id"`
	Name            string `json:"name" yaml:"name"`
	DefaultPolicyID string `json:"default_policy_id,omitempty" yaml:"default_policy_id,omitempty"`
	PartnerID       string `json:"partner_id,omitempty" yaml:"partner_id,omitempty"`
	Tier            Tier   `json:"tier" yaml:"tier"`
}

// App is one application within a tenant. An app without its own default
// policy inherits the tenant's.
type App struct {
	ID              string `json:"app_id" yaml:"app_id"`
	TenantID        string `json:"tenant_id" yaml:"tenant_id"`
	Name            string `json:"name" yaml:"name"`
	DefaultPolicyID string `json:"default_policy_id,omitempty" yaml:"default_policy_id,omitempty"`
}

// Source identifies where the effective policy came from.
type Source string

const (
	SourceRequest       Source = "request"
	SourceApp           Source = "app"
	SourceTenant        Source = "tenant"
	SourcePartner       Source = "partner"
	SourceSystemDefault Source = "system_default"
)

// ResolutionResult is the audit record of a resolution: the effective policy,
// the source it came from, and every source that was checked on the way.
type ResolutionResult struct {
	Policy         *Policy  `json:"policy"`
	Source         Source   `json:"resolution_source"`
	ResolutionPath []string `json:"resolution_path"`
}

// Store is the read-only repository interface the resolver consumes.
// Persistence of tenants, apps and policies is an external concern.
type Store interface {
	GetTenant(id string) (*Tenant, error)
	GetApp(id string) (*App, error)
	GetPolicy(id string) (*Policy, error)
	// GetPartnerDefaultPolicy returns the partner-level default policy, or
	// ErrEntityNotFound when the partner has none configured.
	GetPartnerDefaultPolicy(partnerID string) (*Policy, error)
}
