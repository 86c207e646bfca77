package scan

import (
	"errors"
	"fmt"

	"github.com/wardenlabs/llm-warden/internal/suppress"
)

// ErrInvalidOptions marks a request options bag the engine cannot honor.
// Callers translate it to a client error rather than a server failure.
var ErrInvalidOptions = errors.New("invalid scan options")

// Mode is the caller-facing scan depth.
type Mode string

const (
	// ModeFast runs the pattern layer only.
	ModeFast Mode = "fast"
	// ModeBalanced runs both layers with the fail-fast skip available.
	ModeBalanced Mode = "balanced"
	// ModeThorough forces both layers and disables the fail-fast skip.
	ModeThorough Mode = "thorough"
)

// Options is the per-request configuration bag for Scan.
type Options struct {
	L1Enabled           bool                   `json:"l1_enabled"`
	L2Enabled           bool                   `json:"l2_enabled"`
	ConfidenceThreshold float64                `json:"confidence_threshold"`
	Mode                Mode                   `json:"mode"`
	TenantID            string                 `json:"tenant_id,omitempty"`
	AppID               string                 `json:"app_id,omitempty"`
	PolicyID            string                 `json:"policy_id,omitempty"`
	Suppress            []suppress.Suppression `json:"suppress,omitempty"`
	BlockOnThreat       bool                   `json:"block_on_threat"`
	// SessionKey drives cohort assignment for gradual L2 rollout. Falls back
	// to tenant id when empty.
	SessionKey string `json:"session_key,omitempty"`
}

// DefaultOptions returns the options used when the caller specifies nothing.
func DefaultOptions() Options {
	return Options{
		L1Enabled:     true,
		L2Enabled:     true,
		Mode:          ModeBalanced,
		BlockOnThreat: true,
	}
}

// normalize applies mode semantics and validates the bag. fast forces the
// classifier off; thorough forces both layers on (fail-fast is handled by the
// engine).
func (o *Options) normalize() error {
	if o.Mode == "" {
		o.Mode = ModeBalanced
	}
	switch o.Mode {
	case ModeFast:
		o.L2Enabled = false
	case ModeBalanced:
	case ModeThorough:
		o.L1Enabled = true
		o.L2Enabled = true
	default:
		return fmt.Errorf("%w: unknown scan mode %q", ErrInvalidOptions, o.Mode)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold %v outside [0,1]", ErrInvalidOptions, o.ConfidenceThreshold)
	}
	for _, s := range o.Suppress {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

// cohortKey returns the stable key used for rollout bucketing.
func (o Options) cohortKey() string {
	if o.SessionKey != "" {
		return o.SessionKey
	}
	if o.TenantID != "" {
		return o.TenantID
	}
	return o.AppID
}
