package domain

import "time"

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeRequester MessageAuthorType = "REQUESTER"
	AuthorTypeStaff     MessageAuthorType = "STAFF"
	AuthorTypeSystem    MessageAuthorType = "SYSTEM"
)

// TicketMessage is an immutable entry in a ticket thread. System messages form
// the audit trail written by the lifecycle engine.
type TicketMessage struct {
	ID                 string
	TicketID           string
	AuthorType         MessageAuthorType
	AuthorID           *string
	Body               string
	IsSystemMessage    bool
	IsInternal         bool
	MergedFromTicketID *string
	CreatedAt          time.Time
}
