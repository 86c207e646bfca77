// Package store provides the tenant/policy/suppression repositories the
// engine reads from. The Postgres implementation backs production; the
// in-memory implementation backs tests and single-node deployments.
// Writing (provisioning tenants, editing policies) happens outside this
// service.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/policy"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/suppress"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// Postgres reads tenants, apps, policies and suppressions from PostgreSQL.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewPostgres connects and verifies the schema is reachable.
func NewPostgres(config *Config, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	timeout := config.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &Postgres{db: db, timeout: timeout, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Policy store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))
	return s, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

type tenantRow struct {
	ID              string         `db:"tenant_id"`
	Name            string         `db:"name"`
	DefaultPolicyID sql.NullString `db:"default_policy_id"`
	PartnerID       sql.NullString `db:"partner_id"`
	Tier            string         `db:"tier"`
}

// GetTenant fetches one tenant by id.
func (s *Postgres) GetTenant(id string) (*tenant.Tenant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var row tenantRow
	query := `SELECT tenant_id, name, default_policy_id, partner_id, tier FROM tenants WHERE tenant_id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %q: %w", id, tenant.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to fetch tenant %q: %w", id, err)
	}
	return &tenant.Tenant{
		ID:              row.ID,
		Name:            row.Name,
		DefaultPolicyID: row.DefaultPolicyID.String,
		PartnerID:       row.PartnerID.String,
		Tier:            tenant.Tier(row.Tier),
	}, nil
}

type appRow struct {
	ID              string         `db:"app_id"`
	TenantID        string         `db:"tenant_id"`
	Name            string         `db:"name"`
	DefaultPolicyID sql.NullString `db:"default_policy_id"`
}

// GetApp fetches one app by id.
func (s *Postgres) GetApp(id string) (*tenant.App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var row appRow
	query := `SELECT app_id, tenant_id, name, default_policy_id FROM apps WHERE app_id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("app %q: %w", id, tenant.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to fetch app %q: %w", id, err)
	}
	return &tenant.App{
		ID:              row.ID,
		TenantID:        row.TenantID,
		Name:            row.Name,
		DefaultPolicyID: row.DefaultPolicyID.String,
	}, nil
}

type tenantPolicyRow struct {
	ID                       string         `db:"policy_id"`
	TenantID                 sql.NullString `db:"tenant_id"`
	Mode                     string         `db:"mode"`
	BlockingEnabled          bool           `db:"blocking_enabled"`
	BlockSeverityThreshold   sql.NullString `db:"block_severity_threshold"`
	BlockConfidenceThreshold float64        `db:"block_confidence_threshold"`
	L2Enabled                bool           `db:"l2_enabled"`
	L2ThreatThreshold        float64        `db:"l2_threat_threshold"`
	TelemetryDetail          string         `db:"telemetry_detail"`
	Version                  int64          `db:"version"`
}

func (r tenantPolicyRow) toPolicy() *tenant.Policy {
	return &tenant.Policy{
		ID:                       r.ID,
		TenantID:                 r.TenantID.String,
		Mode:                     tenant.Mode(r.Mode),
		BlockingEnabled:          r.BlockingEnabled,
		BlockSeverityThreshold:   severityFromNull(r.BlockSeverityThreshold),
		BlockConfidenceThreshold: r.BlockConfidenceThreshold,
		L2Enabled:                r.L2Enabled,
		L2ThreatThreshold:        r.L2ThreatThreshold,
		TelemetryDetail:          tenant.TelemetryDetail(r.TelemetryDetail),
		Version:                  r.Version,
	}
}

const tenantPolicyColumns = `policy_id, tenant_id, mode, blocking_enabled, block_severity_threshold,
	block_confidence_threshold, l2_enabled, l2_threat_threshold, telemetry_detail, version`

// GetPolicy fetches one tenant policy by id.
func (s *Postgres) GetPolicy(id string) (*tenant.Policy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var row tenantPolicyRow
	query := `SELECT ` + tenantPolicyColumns + ` FROM tenant_policies WHERE policy_id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %q: %w", id, tenant.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to fetch policy %q: %w", id, err)
	}
	return row.toPolicy(), nil
}

// GetPartnerDefaultPolicy fetches the partner-level default, if configured.
func (s *Postgres) GetPartnerDefaultPolicy(partnerID string) (*tenant.Policy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var row tenantPolicyRow
	query := `SELECT ` + tenantPolicyColumns + `
		FROM tenant_policies p
		JOIN partners pa ON pa.default_policy_id = p.policy_id
		WHERE pa.partner_id = $1`
	if err := s.db.GetContext(ctx, &row, query, partnerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("partner %q default policy: %w", partnerID, tenant.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to fetch partner %q default policy: %w", partnerID, err)
	}
	return row.toPolicy(), nil
}

type conditionPolicyRow struct {
	ID               string         `db:"policy_id"`
	CustomerID       string         `db:"customer_id"`
	Enabled          bool           `db:"enabled"`
	Priority         int            `db:"priority"`
	Conditions       []byte         `db:"conditions"`
	Action           string         `db:"action"`
	OverrideSeverity sql.NullString `db:"override_severity"`
	WebhookURL       sql.NullString `db:"webhook_url"`
	Metadata         []byte         `db:"metadata"`
}

// ListPoliciesByCustomer returns all condition policies owned by the
// customer. Conditions and metadata are stored as JSONB.
func (s *Postgres) ListPoliciesByCustomer(ctx context.Context, customerID string) ([]policy.Policy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []conditionPolicyRow
	query := `SELECT policy_id, customer_id, enabled, priority, conditions, action,
		override_severity, webhook_url, metadata
		FROM condition_policies WHERE customer_id = $1 ORDER BY policy_id`
	if err := s.db.SelectContext(ctx, &rows, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list policies for %q: %w", customerID, err)
	}

	out := make([]policy.Policy, 0, len(rows))
	for _, r := range rows {
		p := policy.Policy{
			ID:               r.ID,
			CustomerID:       r.CustomerID,
			Enabled:          r.Enabled,
			Priority:         r.Priority,
			Action:           policy.Action(r.Action),
			OverrideSeverity: severityFromNull(r.OverrideSeverity),
			WebhookURL:       r.WebhookURL.String,
		}
		if len(r.Conditions) > 0 {
			if err := json.Unmarshal(r.Conditions, &p.Conditions); err != nil {
				return nil, fmt.Errorf("policy %q: malformed conditions: %w", r.ID, err)
			}
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &p.Metadata); err != nil {
				return nil, fmt.Errorf("policy %q: malformed metadata: %w", r.ID, err)
			}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("stored policy failed validation: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

type suppressionRow struct {
	Pattern   string         `db:"pattern"`
	Action    string         `db:"action"`
	Reason    sql.NullString `db:"reason"`
	ExpiresAt sql.NullTime   `db:"expires_at"`
}

// ListSuppressions returns the stored suppressions for a tenant.
func (s *Postgres) ListSuppressions(ctx context.Context, tenantID string) ([]suppress.Suppression, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []suppressionRow
	query := `SELECT pattern, action, reason, expires_at FROM suppressions WHERE tenant_id = $1 ORDER BY pattern`
	if err := s.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list suppressions for %q: %w", tenantID, err)
	}

	out := make([]suppress.Suppression, 0, len(rows))
	for _, r := range rows {
		sup := suppress.Suppression{
			Pattern: r.Pattern,
			Action:  suppress.Action(r.Action),
			Reason:  r.Reason.String,
		}
		if r.ExpiresAt.Valid {
			t := r.ExpiresAt.Time
			sup.ExpiresAt = &t
		}
		if err := sup.Validate(); err != nil {
			return nil, fmt.Errorf("stored suppression failed validation: %w", err)
		}
		out = append(out, sup)
	}
	return out, nil
}

func severityFromNull(ns sql.NullString) (sev rules.Severity) {
	if ns.Valid {
		sev = rules.Severity(ns.String)
	}
	return sev
}

// maskDatabaseURL hides credentials in log output.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
