package events

import "github.com/riverqueue/river"

// EventJobArgs carries one domain event through the River outbox. The job row
// is inserted in the same transaction as the write that produced the event.
type EventJobArgs struct {
	Event Event `json:"event"`
}

// Kind returns the job kind identifier for outbox delivery.
func (EventJobArgs) Kind() string { return "domain_event_delivery" }

// InsertOpts lets River retry delivery; handlers must tolerate redelivery.
func (EventJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 10,
	}
}
