// Package models defines the provider webhook wire format and the received
// event record used for deduplication.
package models

import "time"

// Payload is the body of one webhook delivery.
type Payload struct {
	Events             []Event `json:"events"`
	FirstEventSequence int     `json:"firstEventSequence"`
	LastEventSequence  int     `json:"lastEventSequence"`
	Entropy            string  `json:"entropy"`
}

// Event is one change notification inside a delivery. EventDateUTC stays a
// string: the provider sends a timezone-less timestamp that is not RFC 3339.
type Event struct {
	ResourceURL   string `json:"resourceUrl"`
	ResourceID    string `json:"resourceId"`
	EventDateUTC  string `json:"eventDateUtc"`
	EventType     string `json:"eventType"`
	EventCategory string `json:"eventCategory"`
	EventID       string `json:"eventId"`
	TenantID      string `json:"tenantId"`
	TenantType    string `json:"tenantType"`
}

// ReceivedEvent is the dedup record for a processed event. The external event
// id is unique per provider; a second delivery of the same id is a no-op.
type ReceivedEvent struct {
	EventID       string
	Provider      string
	TenantID      string
	EventCategory string
	EventType     string
	ResourceID    string
	ReceivedAt    time.Time
}
