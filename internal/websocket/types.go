package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/review"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeReview is sent after every change to an open review
	EventTypeReview EventType = "review"
	// EventTypeMasking is sent when a document is masked
	EventTypeMasking EventType = "masking"
	// EventTypeSession is sent when a session is opened, saved or closed
	EventTypeSession EventType = "session"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypeAck answers client messages
	EventTypeAck EventType = "ack"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// ReviewEvent describes the state of a review after an action
type ReviewEvent struct {
	Action     string       `json:"action"` // accept, ignore, undo, settle, navigate, select
	RiskID     string       `json:"risk_id,omitempty"`
	SelectedID string       `json:"selected_id,omitempty"`
	Animating  string       `json:"animating,omitempty"`
	CanUndo    bool         `json:"can_undo"`
	Stats      review.Stats `json:"stats"`
}

// MaskingEvent summarises a masking pass. It never carries original values.
type MaskingEvent struct {
	DocumentName      string            `json:"document_name,omitempty"`
	TotalReplacements int               `json:"total_replacements"`
	Findings          []masking.Finding `json:"findings"`
}

// SessionEvent reports session lifecycle changes
type SessionEvent struct {
	Action       string `json:"action"` // opened, reopened, saved, closed
	DocumentName string `json:"document_name,omitempty"`
	Risks        int    `json:"risks"`
	Masked       bool   `json:"masked"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "welcome", "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type         string               `json:"type"` // subscribe, ping
	Subscription *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest narrows the events a client receives. Empty lists
// mean no restriction.
type SubscriptionRequest struct {
	Events     []EventType `json:"events"`
	SessionIDs []string    `json:"session_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
}

// Subscribe replaces the client's subscription
func (c *Client) Subscribe(sub *SubscriptionRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = sub
}

// Wants reports whether event passes the client's subscription
func (c *Client) Wants(event Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sub := c.subscription
	if sub == nil {
		return true
	}

	if len(sub.Events) > 0 && !containsType(sub.Events, event.Type) {
		return false
	}
	if len(sub.SessionIDs) > 0 && event.SessionID != "" && !containsString(sub.SessionIDs, event.SessionID) {
		return false
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
