// Package push contains the public domain model for the notification relay:
// the normalized message, the browser subscription record, delivery outcomes,
// and the interfaces the delivery engine consumes.
package push

import (
	"errors"
	"fmt"
)

// Action is one interaction button shown on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Message is the normalized notification produced by an intake. It is built
// once per inbound event and shared read-only across every delivery attempt
// of a dispatch.
type Message struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
	// Topic, when set, lets the push service collapse queued notifications
	// sharing the same value into the newest one.
	Topic string `json:"topic,omitempty"`
}

var (
	// ErrMissingTitle and ErrMissingBody mark messages that fail the wire
	// contract; intakes reject them before the engine ever sees them.
	ErrMissingTitle = errors.New("message title is required")
	ErrMissingBody  = errors.New("message body is required")
)

// Validate checks the required wire-contract fields.
func (m *Message) Validate() error {
	if m.Title == "" {
		return ErrMissingTitle
	}
	if m.Body == "" {
		return ErrMissingBody
	}
	for i, a := range m.Actions {
		if a.Action == "" || a.Title == "" {
			return fmt.Errorf("action %d is missing its action or title", i)
		}
	}
	return nil
}
