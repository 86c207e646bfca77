package tenant

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Ref carries the policy context of one scan request.
type Ref struct {
	// PolicyID is an explicit request-level override. Highest precedence.
	PolicyID string
	// AppID and TenantID are optional routing context.
	AppID    string
	TenantID string
}

// Resolver resolves the effective policy for a request following strict
// precedence: request override > app default > tenant default > partner
// default > system default. Each step either resolves and stops, or records
// the attempted source and falls through. Unknown ids are hard failures so
// callers can tell "intentionally inherited" apart from "misconfigured".
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the effective policy for ref with its full resolution path.
func (r *Resolver) Resolve(ref Ref) (*ResolutionResult, error) {
	var path []string

	// Request-level override wins outright; a bad id is a hard failure.
	if ref.PolicyID != "" {
		p, err := r.lookupPolicy(ref.PolicyID)
		if err != nil {
			return nil, fmt.Errorf("request policy %q: %w", ref.PolicyID, err)
		}
		return &ResolutionResult{
			Policy:         p,
			Source:         SourceRequest,
			ResolutionPath: append(path, string(SourceRequest)),
		}, nil
	}
	path = append(path, string(SourceRequest))

	var ten *Tenant

	if ref.AppID != "" {
		app, err := r.store.GetApp(ref.AppID)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", ref.AppID, err)
		}
		if app.DefaultPolicyID != "" {
			p, err := r.lookupPolicy(app.DefaultPolicyID)
			if err != nil {
				return nil, fmt.Errorf("app %q default policy %q: %w", ref.AppID, app.DefaultPolicyID, err)
			}
			return &ResolutionResult{
				Policy:         p,
				Source:         SourceApp,
				ResolutionPath: append(path, string(SourceApp)),
			}, nil
		}
		path = append(path, string(SourceApp))

		// An app implies its tenant even when the request omits it.
		if ref.TenantID == "" {
			ref.TenantID = app.TenantID
		} else if ref.TenantID != app.TenantID {
			return nil, fmt.Errorf("app %q belongs to tenant %q, not %q", ref.AppID, app.TenantID, ref.TenantID)
		}
	}

	if ref.TenantID != "" {
		t, err := r.store.GetTenant(ref.TenantID)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: %w", ref.TenantID, err)
		}
		ten = t
		if t.DefaultPolicyID != "" {
			p, err := r.lookupPolicy(t.DefaultPolicyID)
			if err != nil {
				return nil, fmt.Errorf("tenant %q default policy %q: %w", ref.TenantID, t.DefaultPolicyID, err)
			}
			return &ResolutionResult{
				Policy:         p,
				Source:         SourceTenant,
				ResolutionPath: append(path, string(SourceTenant)),
			}, nil
		}
		path = append(path, string(SourceTenant))
	}

	if ten != nil && ten.PartnerID != "" {
		p, err := r.store.GetPartnerDefaultPolicy(ten.PartnerID)
		if err == nil {
			return &ResolutionResult{
				Policy:         p,
				Source:         SourcePartner,
				ResolutionPath: append(path, string(SourcePartner)),
			}, nil
		}
		if !errors.Is(err, ErrEntityNotFound) {
			return nil, fmt.Errorf("partner %q: %w", ten.PartnerID, err)
		}
		// A partner without a configured default is an intentional
		// inheritance, not a misconfiguration.
		path = append(path, string(SourcePartner))
	}

	def, ok := Preset(DefaultPolicyID)
	if !ok {
		return nil, fmt.Errorf("system default policy %q: %w", DefaultPolicyID, ErrEntityNotFound)
	}
	r.logger.Debug("policy resolved to system default",
		zap.String("tenant_id", ref.TenantID),
		zap.String("app_id", ref.AppID))
	return &ResolutionResult{
		Policy:         def,
		Source:         SourceSystemDefault,
		ResolutionPath: append(path, string(SourceSystemDefault)),
	}, nil
}

// lookupPolicy checks the global presets first, then the store.
func (r *Resolver) lookupPolicy(id string) (*Policy, error) {
	if p, ok := Preset(id); ok {
		return p, nil
	}
	return r.store.GetPolicy(id)
}
