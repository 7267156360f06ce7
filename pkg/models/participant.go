// Package models contains the business domain types shared across the coordinator.
package models

// ParticipantType identifies which side of a conversation a participant is on.
type ParticipantType string

const (
	ParticipantCustomer ParticipantType = "CUSTOMER"
	ParticipantAgent    ParticipantType = "AGENT"

	// ParticipantSystem is minted only by the coordinator for closure notices.
	// It is rejected at every external boundary.
	ParticipantSystem ParticipantType = "SYSTEM"
)

// Valid reports whether t is a known participant type.
func (t ParticipantType) Valid() bool {
	switch t {
	case ParticipantCustomer, ParticipantAgent, ParticipantSystem:
		return true
	}
	return false
}

// Participant is one party to a conversation. Customers are identified by a
// token + device fingerprint, agents by an opaque agent id.
type Participant struct {
	ID          string            `json:"id"`
	Type        ParticipantType   `json:"type"`
	DisplayName string            `json:"displayName,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// IsAgent reports whether p is an agent participant.
func (p Participant) IsAgent() bool { return p.Type == ParticipantAgent }

// IsCustomer reports whether p is a customer participant.
func (p Participant) IsCustomer() bool { return p.Type == ParticipantCustomer }
