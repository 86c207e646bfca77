package events

import (
	"time"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeVerdict represents a completed scan verdict
	EventTypeVerdict EventType = "scan_verdict"
	// EventTypeDetection represents a single rule detection
	EventTypeDetection EventType = "detection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	ScanID    string      `json:"scan_id,omitempty"`
}

// VerdictEvent summarizes a completed scan. It carries the content hash
// and structured verdict fields, never the scanned text.
type VerdictEvent struct {
	ScanID       string         `json:"scan_id"`
	ContentHash  string         `json:"content_hash"`
	TenantID     string         `json:"tenant_id,omitempty"`
	AppID        string         `json:"app_id,omitempty"`
	HasThreats   bool           `json:"has_threats"`
	ShouldBlock  bool           `json:"should_block"`
	Severity     rules.Severity `json:"severity,omitempty"`
	Detections   int            `json:"detections"`
	Suppressed   int            `json:"suppressed"`
	L2Skipped    bool           `json:"l2_skipped"`
	L2SkipCause  string         `json:"l2_skip_cause,omitempty"`
	ProcessingMS float64        `json:"processing_ms"`
}

// DetectionEvent represents a single rule detection within a scan.
type DetectionEvent struct {
	ScanID      string         `json:"scan_id"`
	ContentHash string         `json:"content_hash"`
	RuleID      string         `json:"rule_id"`
	RuleVersion string         `json:"rule_version"`
	Severity    rules.Severity `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Family      string         `json:"family,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalScans       int64  `json:"total_scans"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for events
type EventFilter struct {
	MinSeverity rules.Severity `json:"min_severity,omitempty"`
	Tenants     []string       `json:"tenants,omitempty"`
	RuleIDs     []string       `json:"rule_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         interface{} // Will be *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
