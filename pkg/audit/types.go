// Package audit records who changed which grants, when, and with what
// outcome. Handlers log an event after every mutating operation; reads are
// not audited.
package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeGrantAssign    EventType = "grant.assign"
	EventTypeGrantRevoke    EventType = "grant.revoke"
	EventTypeGrantReconcile EventType = "grant.reconcile"

	EventTypePrincipalCreate EventType = "principal.create"
	EventTypePrincipalDelete EventType = "principal.delete"
	EventTypeObjectCreate    EventType = "object.create"
	EventTypeObjectDelete    EventType = "object.delete"

	EventTypeAccessDenied EventType = "access.denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor: who performed the operation (from request attribution headers)
	ActorKind string `json:"actor_kind,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`

	// Subject: the principal and object whose grants changed
	PrincipalRef string   `json:"principal_ref,omitempty"`
	ObjectRef    string   `json:"object_ref,omitempty"`
	Codenames    []string `json:"codenames,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
