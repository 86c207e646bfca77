// Package scan orchestrates one detection pass: pattern matching, the
// optional classifier stage with its fail-fast skip, merging, suppression,
// and policy evaluation into a final decision record.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/classifier"
	"github.com/wardenlabs/llm-warden/internal/pattern"
	"github.com/wardenlabs/llm-warden/internal/policy"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/scoring"
	"github.com/wardenlabs/llm-warden/internal/suppress"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

// PolicyStore lists condition policies for evaluation. Persistence is
// external; the engine only reads.
type PolicyStore interface {
	ListPoliciesByCustomer(ctx context.Context, customerID string) ([]policy.Policy, error)
}

// SuppressionStore lists stored suppressions for a tenant.
type SuppressionStore interface {
	ListSuppressions(ctx context.Context, tenantID string) ([]suppress.Suppression, error)
}

// Config tunes the orchestration itself; per-request behavior comes from
// Options and the resolved tenant policy.
type Config struct {
	// FailFastEnabled allows skipping the classifier when the pattern layer
	// already produced a maximally severe, high-confidence detection. A
	// latency optimization only; thorough mode always disables it.
	FailFastEnabled bool `yaml:"fail_fast_enabled" mapstructure:"fail_fast_enabled"`
	// MinConfidenceForSkip is the L1 confidence above which a CRITICAL
	// detection triggers the fail-fast skip.
	MinConfidenceForSkip float64 `yaml:"min_confidence_for_skip" mapstructure:"min_confidence_for_skip"`
	// L2RolloutPercent gradually enables the classifier per cohort (0-100).
	L2RolloutPercent int `yaml:"l2_rollout_percent" mapstructure:"l2_rollout_percent"`
	// ScoringMode overrides the mode derived from the resolved tenant
	// policy. Empty means derive.
	ScoringMode scoring.Mode `yaml:"scoring_mode" mapstructure:"scoring_mode"`
}

// DefaultConfig returns the shipped orchestration defaults.
func DefaultConfig() Config {
	return Config{
		FailFastEnabled:      true,
		MinConfidenceForSkip: 0.7,
		L2RolloutPercent:     100,
	}
}

// L1Result summarizes the pattern layer for one scan.
type L1Result struct {
	Detections      []rules.Detection `json:"detections"`
	RulesEvaluated  int               `json:"rules_evaluated"`
	PatternWarnings []pattern.Warning `json:"pattern_warnings,omitempty"`
}

// L2Result summarizes the classifier layer for one scan.
type L2Result struct {
	Scoring   *scoring.Result `json:"scoring,omitempty"`
	Skipped   bool            `json:"skipped"`
	SkipCause string          `json:"skip_cause,omitempty"`
}

// Result is the audit-safe record of one scan. It never embeds the scanned
// text; ContentHash is the only content-derived field.
type Result struct {
	ScanID      string         `json:"scan_id"`
	ContentHash string         `json:"content_hash"`
	HasThreats  bool           `json:"has_threats"`
	Severity    rules.Severity `json:"severity,omitempty"`
	ShouldBlock bool           `json:"should_block"`
	DurationMS  float64        `json:"duration_ms"`

	Detections []rules.Detection     `json:"detections,omitempty"`
	Suppressed []suppress.Suppressed `json:"suppressed,omitempty"`

	L1 *L1Result `json:"l1,omitempty"`
	L2 *L2Result `json:"l2,omitempty"`

	PolicyDecisions map[string]policy.Decision `json:"policy_decisions,omitempty"`
	Resolution      *tenant.ResolutionResult   `json:"resolution,omitempty"`

	// Errors records stage failures that did not abort the scan (the
	// blocking decision already reflects them via fail-closed handling).
	Errors []string `json:"errors,omitempty"`
}

// Engine is the scan orchestrator. One engine serves many concurrent scans;
// the pattern cache and cohort cache are its only shared mutable state.
type Engine struct {
	cfg          Config
	ruleset      []rules.Rule
	matcher      *pattern.Matcher
	clf          classifier.Classifier
	resolver     *tenant.Resolver
	policies     PolicyStore
	suppressions SuppressionStore
	cohort       *CohortAssigner
	logger       *zap.Logger
}

// NewEngine wires an engine. ruleset must already be validated; classifier
// may be the stub.
func NewEngine(
	cfg Config,
	ruleset []rules.Rule,
	clf classifier.Classifier,
	resolver *tenant.Resolver,
	policies PolicyStore,
	suppressions SuppressionStore,
	logger *zap.Logger,
) (*Engine, error) {
	if err := rules.ValidateAll(ruleset); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	if cfg.MinConfidenceForSkip <= 0 || cfg.MinConfidenceForSkip > 1 {
		cfg.MinConfidenceForSkip = DefaultConfig().MinConfidenceForSkip
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cohort, err := NewCohortAssigner()
	if err != nil {
		return nil, fmt.Errorf("failed to create cohort assigner: %w", err)
	}
	return &Engine{
		cfg:          cfg,
		ruleset:      ruleset,
		matcher:      pattern.NewMatcher(logger.Named("pattern")),
		clf:          clf,
		resolver:     resolver,
		policies:     policies,
		suppressions: suppressions,
		cohort:       cohort,
		logger:       logger,
	}, nil
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() []rules.Rule { return e.ruleset }

// Scan runs the full pipeline over text. A scan is synchronous and
// single-threaded internally; concurrency happens across scans.
func (e *Engine) Scan(ctx context.Context, text string, opts Options) (*Result, error) {
	start := time.Now()
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	result := &Result{
		ScanID:      uuid.NewString(),
		ContentHash: HashContent(text),
	}
	log := e.logger.With(zap.String("scan_id", result.ScanID))

	// Resolve the governing policy first: an unresolvable policy context is a
	// misconfiguration and the scan must not guess.
	resolution, err := e.resolver.Resolve(tenant.Ref{
		PolicyID: opts.PolicyID,
		AppID:    opts.AppID,
		TenantID: opts.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("policy resolution failed: %w", err)
	}
	result.Resolution = resolution
	tenantPolicy := resolution.Policy

	// Fail-open is only ever an explicit choice: monitor mode or a request
	// that turned blocking off.
	failOpen := !tenantPolicy.BlockingEnabled || !opts.BlockOnThreat

	// Layer 1: deterministic patterns.
	if opts.L1Enabled {
		result.L1 = e.runPatterns(text, opts.ConfidenceThreshold, log)
	}

	// Layer 2: classifier, gated by options, policy, rollout, and fail-fast.
	l2Wanted := opts.L2Enabled && tenantPolicy.L2Enabled && e.clf != nil
	if l2Wanted && opts.Mode != ModeThorough {
		if !e.cohort.Enabled(opts.cohortKey(), e.cfg.L2RolloutPercent) {
			result.L2 = &L2Result{Skipped: true, SkipCause: "rollout"}
			l2Wanted = false
		}
	}
	if l2Wanted && result.L1 != nil && opts.Mode != ModeThorough && e.cfg.FailFastEnabled {
		if d, ok := highestDetection(result.L1.Detections); ok &&
			d.Severity == rules.SeverityCritical && d.Confidence > e.cfg.MinConfidenceForSkip {
			// The classifier cannot change a verdict that is already
			// maximally severe and highly confident.
			result.L2 = &L2Result{Skipped: true, SkipCause: "fail_fast"}
			l2Wanted = false
			log.Debug("fail-fast skip",
				zap.String("rule_id", d.RuleID),
				zap.Float64("confidence", d.Confidence))
		}
	}

	var l2Detection *rules.Detection
	if l2Wanted {
		l2, det, err := e.runClassifier(ctx, text, tenantPolicy)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if !failOpen {
				// Cannot produce a trustworthy verdict; prefer a false
				// positive over a silent bypass.
				result.ShouldBlock = true
			}
			log.Error("classifier stage failed",
				zap.Error(err),
				zap.Bool("fail_open", failOpen))
		} else {
			result.L2 = l2
			l2Detection = det
		}
	}

	// Merge both layers into one ordered detection list.
	var merged []rules.Detection
	if result.L1 != nil {
		merged = append(merged, result.L1.Detections...)
	}
	if l2Detection != nil {
		merged = append(merged, *l2Detection)
	}
	sortDetections(merged)

	// Suppressions: stored entries merged with inline, inline winning.
	stored, err := e.loadSuppressions(ctx, opts.TenantID)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		log.Warn("suppression load failed, continuing without stored entries", zap.Error(err))
	}
	kept, audited := suppress.Apply(merged, suppress.Merge(stored, opts.Suppress), time.Now())
	result.Detections = kept
	result.Suppressed = audited

	// Condition policies, scoped to the tenant before evaluation.
	if e.policies != nil && opts.TenantID != "" && len(kept) > 0 {
		all, err := e.policies.ListPoliciesByCustomer(ctx, opts.TenantID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if !failOpen {
				result.ShouldBlock = true
			}
			log.Error("policy load failed", zap.Error(err), zap.Bool("fail_open", failOpen))
		} else {
			scoped := policy.FilterByCustomer(all, opts.TenantID)
			result.PolicyDecisions = policy.EvaluateBatch(kept, scoped)
		}
	}

	e.decide(result, tenantPolicy, opts)
	result.DurationMS = float64(time.Since(start).Microseconds()) / 1000

	log.Info("scan completed",
		zap.String("content_hash", result.ContentHash),
		zap.Bool("has_threats", result.HasThreats),
		zap.Bool("should_block", result.ShouldBlock),
		zap.String("severity", string(result.Severity)),
		zap.Int("detections", len(result.Detections)),
		zap.Float64("duration_ms", result.DurationMS))
	return result, nil
}

// runPatterns evaluates every rule against text and builds detections.
func (e *Engine) runPatterns(text string, confidenceThreshold float64, log *zap.Logger) *L1Result {
	l1 := &L1Result{RulesEvaluated: len(e.ruleset)}
	for _, rule := range e.ruleset {
		matches, warnings := e.matcher.MatchAll(text, rule.Patterns)
		l1.PatternWarnings = append(l1.PatternWarnings, warnings...)
		if len(matches) == 0 {
			continue
		}
		if rule.Confidence < confidenceThreshold {
			continue
		}
		patternIdx := make([]int, 0, len(matches))
		for _, m := range matches {
			patternIdx = append(patternIdx, m.PatternIndex)
		}
		l1.Detections = append(l1.Detections, rules.Detection{
			RuleID:     rule.ID,
			Version:    rule.Version,
			Severity:   rule.Severity,
			Confidence: rule.Confidence,
			Message:    rule.Message,
			Metadata: map[string]interface{}{
				"family":          string(rule.Family),
				"sub_family":      rule.SubFamily,
				"match_count":     len(matches),
				"pattern_indices": patternIdx,
			},
		})
	}
	if len(l1.PatternWarnings) > 0 {
		log.Warn("patterns skipped during scan", zap.Int("count", len(l1.PatternWarnings)))
	}
	return l1
}

// runClassifier infers and scores, and converts a threatening verdict into a
// detection for merging.
func (e *Engine) runClassifier(ctx context.Context, text string, tp *tenant.Policy) (*L2Result, *rules.Detection, error) {
	ts, err := e.clf.Infer(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	sr, err := scoring.Score(ts, e.scoringMode(tp))
	if err != nil {
		return nil, nil, fmt.Errorf("scoring failed: %w", err)
	}

	l2 := &L2Result{Scoring: sr}

	var det *rules.Detection
	switch sr.Classification {
	case scoring.ClassThreat, scoring.ClassHighThreat:
		severity := rules.SeverityHigh
		if sr.Classification == scoring.ClassHighThreat {
			severity = rules.SeverityCritical
		}
		det = &rules.Detection{
			RuleID:     "l2-" + sr.TopFamily,
			Severity:   severity,
			Confidence: sr.HierarchicalScore,
			Message:    fmt.Sprintf("Classifier verdict: %s", sr.Classification),
			Metadata: map[string]interface{}{
				"family":         sr.TopFamily,
				"sub_family":     sr.TopSubFamily,
				"classification": string(sr.Classification),
				"action":         string(sr.Action),
				"is_consistent":  sr.IsConsistent,
			},
		}
	case scoring.ClassReview:
		det = &rules.Detection{
			RuleID:     "l2-review",
			Severity:   rules.SeverityMedium,
			Confidence: sr.HierarchicalScore,
			Message:    "Classifier verdict requires manual review",
			Metadata: map[string]interface{}{
				"family":         sr.TopFamily,
				"classification": string(sr.Classification),
				"action":         string(sr.Action),
			},
		}
	}
	return l2, det, nil
}

// scoringMode derives the scorer mode from config override or policy mode.
func (e *Engine) scoringMode(tp *tenant.Policy) scoring.Mode {
	if e.cfg.ScoringMode != "" {
		return e.cfg.ScoringMode
	}
	switch tp.Mode {
	case tenant.ModeStrict:
		return scoring.ModeHighSecurity
	case tenant.ModeMonitor:
		return scoring.ModeLowFP
	default:
		return scoring.ModeBalanced
	}
}

// decide fills the final verdict fields from the remaining detections and
// the resolved policy.
func (e *Engine) decide(result *Result, tp *tenant.Policy, opts Options) {
	result.HasThreats = len(result.Detections) > 0
	if d, ok := highestDetection(result.Detections); ok {
		result.Severity = d.Severity
	}

	if !tp.BlockingEnabled || !opts.BlockOnThreat {
		return
	}

	// Threshold blocking from the resolved tenant policy.
	for _, d := range result.Detections {
		if d.Severity.AtLeast(tp.BlockSeverityThreshold) && d.Confidence >= tp.BlockConfidenceThreshold {
			result.ShouldBlock = true
			return
		}
	}

	// A condition policy can force blocking below the tenant thresholds.
	for _, dec := range result.PolicyDecisions {
		if dec.Action == policy.ActionBlock || dec.Action == policy.ActionAlert {
			result.ShouldBlock = true
			return
		}
	}

	// The classifier's own action blocks too, when it ran.
	if result.L2 != nil && result.L2.Scoring != nil {
		switch result.L2.Scoring.Action {
		case scoring.ActionBlock, scoring.ActionBlockAlert:
			result.ShouldBlock = true
		}
	}
}

// loadSuppressions fetches stored suppressions, tolerating a missing store.
func (e *Engine) loadSuppressions(ctx context.Context, tenantID string) ([]suppress.Suppression, error) {
	if e.suppressions == nil || tenantID == "" {
		return nil, nil
	}
	return e.suppressions.ListSuppressions(ctx, tenantID)
}

// sortDetections orders by severity descending, then rule id ascending.
func sortDetections(ds []rules.Detection) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Severity.Rank() != ds[j].Severity.Rank() {
			return ds[i].Severity.Rank() > ds[j].Severity.Rank()
		}
		return ds[i].RuleID < ds[j].RuleID
	})
}

// highestDetection returns the most severe detection, using the same order
// as sortDetections.
func highestDetection(ds []rules.Detection) (rules.Detection, bool) {
	if len(ds) == 0 {
		return rules.Detection{}, false
	}
	best := ds[0]
	for _, d := range ds[1:] {
		if d.Severity.Rank() > best.Severity.Rank() ||
			(d.Severity.Rank() == best.Severity.Rank() && d.RuleID < best.RuleID) {
			best = d
		}
	}
	return best, true
}

// HashContent returns the opaque content hash carried in results instead of
// the raw text. Exposed so callers can key caches the same way.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
