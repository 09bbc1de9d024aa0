package models

import (
	"time"
)

// Event represents a chain-of-custody event recorded against a supply
// chain entity. Events are logically immutable once written; the fields
// entering the canonical hash must never change after creation.
type Event struct {
	ID          string                 `json:"id" db:"id"`
	EntityType  string                 `json:"entity_type" db:"entity_type"`
	EntityID    int64                  `json:"entity_id" db:"entity_id"`
	EventType   string                 `json:"event_type" db:"event_type"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
	Description string                 `json:"description" db:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Severity    string                 `json:"severity" db:"severity"`
	Actor       string                 `json:"actor,omitempty" db:"actor"`
	Location    string                 `json:"location,omitempty" db:"location"`

	// Display and request-provenance fields. These never enter the
	// canonical hash.
	DisplayName string `json:"display_name,omitempty" db:"display_name"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventFilter for querying events
type EventFilter struct {
	EntityType *string    `json:"entity_type,omitempty"`
	EntityID   *int64     `json:"entity_id,omitempty"`
	EventType  *string    `json:"event_type,omitempty"`
	Severity   *string    `json:"severity,omitempty"`
	FromTime   *time.Time `json:"from_time,omitempty"`
	ToTime     *time.Time `json:"to_time,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// Event type vocabulary
var EventTypes = []string{
	"created", "updated", "status_changed", "location_changed",
	"quality_check", "temperature_alert", "shipped", "delivered",
	"returned", "damaged", "expired", "recalled", "inventory_count",
	"maintenance", "calibration", "user_action", "system_action",
	"alert", "warning", "error", "other",
}

// Entity type vocabulary
var EntityTypes = []string{
	"product", "batch", "pack", "shipment",
	"user", "device", "location", "system",
}

// Severity levels
var Severities = []string{"info", "low", "medium", "high", "critical"}

// IsValidEventType checks event type membership
func IsValidEventType(t string) bool { return contains(EventTypes, t) }

// IsValidEntityType checks entity type membership
func IsValidEntityType(t string) bool { return contains(EntityTypes, t) }

// IsValidSeverity checks severity membership
func IsValidSeverity(s string) bool { return contains(Severities, s) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// IsCritical checks if this is a critical event
func (e *Event) IsCritical() bool {
	return e.Severity == "critical"
}

// IsAlert checks if this event should trigger an alert
func (e *Event) IsAlert() bool {
	if e.Severity == "high" || e.Severity == "critical" {
		return true
	}
	switch e.EventType {
	case "temperature_alert", "damaged", "recalled", "error":
		return true
	}
	return false
}
