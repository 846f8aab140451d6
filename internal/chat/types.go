package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to this system.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message types understood by the pipeline. Template messages are exempt
// from the session-window guard.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeLocation = "location"
	TypeTemplate = "template"
)

// ConversationStatus values.
const (
	ConversationOpen     = "open"
	ConversationClosed   = "closed"
	ConversationArchived = "archived"
)

// Contact is a chat participant keyed by the provider-assigned id.
type Contact struct {
	ID          uuid.UUID
	ProviderID  string
	DisplayName string
	PhoneNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation groups messages with a single contact. FlowState carries an
// in-progress guided collection as opaque JSON owned by the flow package.
type Conversation struct {
	ID             uuid.UUID
	ContactID      uuid.UUID
	Status         string
	LastActivityAt time.Time
	UnreadCount    int
	FlowState      json.RawMessage
	CreatedAt      time.Time
}

// Message is one inbound or outbound unit in a conversation. Inbound
// messages are immutable once created; outbound messages are mutated only
// by the dispatcher's state machine.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	ProviderMessageID string
	Direction         string
	Type              string
	Body              string
	MediaURL          string
	Caption           string
	Latitude          float64
	Longitude         float64
	Status            Status
	Error             string
	SendAttempts      int
	NextRetryAt       *time.Time
	CreatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
}
