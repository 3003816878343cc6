// Package domain contains core concepts of the chatroom.
// Messages exchanged through the hub are immutable Envelopes; no runtime,
// network, or UI logic should be added here.
package domain

import "time"

// ServerSender is the reserved sender name for hub-originated notices.
const ServerSender = "Server"

// Envelope is one timestamped, attributed unit of broadcast content.
// It is produced only by the hub and never mutated afterwards.
type Envelope struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewEnvelope stamps content with the wall clock in HH:MM:SS form,
// the display format consumed by clients.
func NewEnvelope(sender, content string, at time.Time) Envelope {
	return Envelope{
		Sender:    sender,
		Content:   content,
		Timestamp: at.Format(time.TimeOnly),
	}
}

// FromServer reports whether the envelope carries a hub notice rather
// than participant speech.
func (e Envelope) FromServer() bool {
	return e.Sender == ServerSender
}
