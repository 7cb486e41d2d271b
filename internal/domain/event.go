package domain

import "time"

// EventStatus is the state of an event as reported by the upstream feed.
type EventStatus string

const (
	EventStatusUpcoming EventStatus = "upcoming"
	EventStatusLive     EventStatus = "live"
	EventStatusFinished EventStatus = "finished"
)

// Participant is one competitor in an event.
type Participant struct {
	ID   string
	Name string
}

// Event is an external, read-only reference to a sporting event. The engine
// consumes events; it never creates or mutates them.
type Event struct {
	ID           string
	Category     string
	Name         string
	StartTime    time.Time
	Status       EventStatus
	Participants []Participant
}
