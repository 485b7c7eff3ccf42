package hub

import (
	"fmt"
	"time"
)

// Envelope types.
const (
	TypeSystem  = "system"
	TypeMessage = "message"
)

// TimestampLayout renders UTC timestamps with millisecond precision, the
// format browsers produce with Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is an outbound event delivered to participants.
type Envelope interface {
	EnvelopeType() string
}

// SystemEnvelope carries hub notices: welcome, joined and left.
type SystemEnvelope struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// EnvelopeType implements Envelope.
func (SystemEnvelope) EnvelopeType() string { return TypeSystem }

// MessageEnvelope carries a chat message relayed from a participant.
type MessageEnvelope struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// EnvelopeType implements Envelope.
func (MessageEnvelope) EnvelopeType() string { return TypeMessage }

// NewSystemEnvelope builds a hub notice stamped with at.
func NewSystemEnvelope(content string, at time.Time) SystemEnvelope {
	return SystemEnvelope{Type: TypeSystem, Content: content, Timestamp: FormatTimestamp(at)}
}

// NewMessageEnvelope builds a chat message from sender stamped with at.
func NewMessageEnvelope(sender, content string, at time.Time) MessageEnvelope {
	return MessageEnvelope{Type: TypeMessage, Sender: sender, Content: content, Timestamp: FormatTimestamp(at)}
}

// FormatTimestamp formats t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func welcomeText(name string) string { return fmt.Sprintf("Welcome %s!", name) }
func joinedText(name string) string  { return fmt.Sprintf("%s joined the chat", name) }
func leftText(name string) string    { return fmt.Sprintf("%s left the chat", name) }
