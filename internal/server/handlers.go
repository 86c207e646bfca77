package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/events"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/scan"
	"github.com/wardenlabs/llm-warden/internal/suppress"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

// ScanRequest is the POST /v1/scan body. Text is consumed for scanning and
// never echoed back or persisted.
type ScanRequest struct {
	Text                string                 `json:"text"`
	TenantID            string                 `json:"tenant_id,omitempty"`
	AppID               string                 `json:"app_id,omitempty"`
	PolicyID            string                 `json:"policy_id,omitempty"`
	Mode                scan.Mode              `json:"mode,omitempty"`
	SessionKey          string                 `json:"session_key,omitempty"`
	ConfidenceThreshold float64                `json:"confidence_threshold,omitempty"`
	BlockOnThreat       *bool                  `json:"block_on_threat,omitempty"`
	Suppressions        []suppress.Suppression `json:"suppressions,omitempty"`
	// SkipCache forces a fresh scan even when a cached verdict exists.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// ScanResponse wraps a scan result with cache provenance.
type ScanResponse struct {
	*scan.Result
	Cached bool `json:"cached"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleScan runs one synchronous scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	opts := scan.DefaultOptions()
	opts.TenantID = req.TenantID
	opts.AppID = req.AppID
	opts.PolicyID = req.PolicyID
	opts.SessionKey = req.SessionKey
	opts.Suppress = req.Suppressions
	opts.ConfidenceThreshold = req.ConfidenceThreshold
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	if req.BlockOnThreat != nil {
		opts.BlockOnThreat = *req.BlockOnThreat
	}

	scope, cacheable := cacheScope(opts)
	cacheable = cacheable && !req.SkipCache
	if s.verdicts != nil && cacheable {
		hash := scan.HashContent(req.Text)
		lookup, err := s.verdicts.Lookup(r.Context(), hash, scope, s.rulesVersion)
		if err == nil && lookup.CacheHit {
			writeJSON(w, http.StatusOK, ScanResponse{Result: lookup.Verdict.Result, Cached: true})
			return
		}
	}

	result, err := s.engine.Scan(r.Context(), req.Text, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tenant.ErrEntityNotFound) {
			status = http.StatusUnprocessableEntity
		} else if errors.Is(err, scan.ErrInvalidOptions) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
		return
	}

	s.logger.LogDecision(result.ScanID, result.ContentHash, result.ShouldBlock,
		result.HasThreats, string(result.Severity), len(result.Detections), result.DurationMS)

	if s.verdicts != nil && cacheable {
		if err := s.verdicts.Store(r.Context(), scope, s.rulesVersion, result); err != nil {
			s.logger.Warn("Failed to cache verdict", zap.Error(err))
		}
	}

	s.broadcastScan(result, opts)

	writeJSON(w, http.StatusOK, ScanResponse{Result: result, Cached: false})
}

// broadcastScan emits the verdict and per-detection events.
func (s *Server) broadcastScan(result *scan.Result, opts scan.Options) {
	verdict := events.VerdictEvent{
		ScanID:       result.ScanID,
		ContentHash:  result.ContentHash,
		TenantID:     opts.TenantID,
		AppID:        opts.AppID,
		HasThreats:   result.HasThreats,
		ShouldBlock:  result.ShouldBlock,
		Severity:     result.Severity,
		Detections:   len(result.Detections),
		Suppressed:   len(result.Suppressed),
		ProcessingMS: result.DurationMS,
	}
	if result.L2 != nil {
		verdict.L2Skipped = result.L2.Skipped
		verdict.L2SkipCause = result.L2.SkipCause
	}
	s.hub.BroadcastEvent(events.Event{
		Type:      events.EventTypeVerdict,
		Timestamp: time.Now(),
		ScanID:    result.ScanID,
		Data:      verdict,
	})

	for _, d := range result.Detections {
		family, _ := d.Metadata["family"].(string)
		s.hub.BroadcastEvent(events.Event{
			Type:      events.EventTypeDetection,
			Timestamp: time.Now(),
			ScanID:    result.ScanID,
			Data: events.DetectionEvent{
				ScanID:      result.ScanID,
				ContentHash: result.ContentHash,
				RuleID:      d.RuleID,
				RuleVersion: d.Version,
				Severity:    d.Severity,
				Confidence:  d.Confidence,
				Family:      family,
			},
		})
	}
}

// RuleInfo is the public view of a loaded rule.
type RuleInfo struct {
	ID         string         `json:"id"`
	Version    string         `json:"version"`
	Family     rules.Family   `json:"family"`
	SubFamily  string         `json:"sub_family,omitempty"`
	Severity   rules.Severity `json:"severity"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	Patterns   int            `json:"patterns"`
}

// handleRules lists the loaded rule pack.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	ruleset := s.engine.Rules()
	infos := make([]RuleInfo, 0, len(ruleset))
	for _, rule := range ruleset {
		infos = append(infos, RuleInfo{
			ID:         rule.ID,
			Version:    rule.Version,
			Family:     rule.Family,
			SubFamily:  rule.SubFamily,
			Severity:   rule.Severity,
			Confidence: rule.Confidence,
			Message:    rule.Message,
			Patterns:   len(rule.Patterns),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules_version": s.rulesVersion,
		"rules":         infos,
	})
}

// handleCacheStats exposes verdict cache statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		writeJSONError(w, http.StatusNotFound, "verdict cache disabled")
		return
	}
	stats, err := s.verdicts.GetStats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "llm-warden",
		"version":       "0.1.0",
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"active_rules":  len(s.engine.Rules()),
		"rules_version": s.rulesVersion,
		"l2_rollout":    s.config.Engine.L2RolloutPercent,
	})
}

// cacheScope keys the verdict cache by everything besides the text that
// shapes the verdict: the policy context plus the per-request options. A
// non-blocking or fast-mode verdict must never be served to a blocking or
// thorough caller. Requests carrying inline suppressions are not cacheable
// at all (the suppression list is unbounded caller input).
func cacheScope(opts scan.Options) (string, bool) {
	if len(opts.Suppress) > 0 {
		return "", false
	}
	scope := fmt.Sprintf("%s|%s|%s|%s|%t|%g",
		opts.PolicyID, opts.AppID, opts.TenantID,
		opts.Mode, opts.BlockOnThreat, opts.ConfidenceThreshold)
	return scope, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
