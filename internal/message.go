package internal

import (
	"bytes"
	"fmt"
	"time"
	"unicode/utf8"
)

// PayloadKind describes what a message payload contains. The ordinals are
// sent on the wire so must never be reordered.
type PayloadKind int32

const (
	// KindNone carries no payload. Used for keepalives.
	KindNone PayloadKind = iota
	// KindText carries UTF-8 chat text.
	KindText
	// KindImage carries raw image bytes.
	KindImage
	// KindEvent carries an envelope with no data.
	KindEvent
	// KindEventText carries an envelope with text data.
	KindEventText
	// KindEventBytes carries an envelope with bytes data.
	KindEventBytes

	kindMax
)

var kindNames = [...]string{
	KindNone:       "none",
	KindText:       "text",
	KindImage:      "image",
	KindEvent:      "event",
	KindEventText:  "event-text",
	KindEventBytes: "event-bytes",
}

func (k PayloadKind) Valid() bool {
	return k >= 0 && k < kindMax
}

func (k PayloadKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int32(k))
	}
	return kindNames[k]
}

// IsEvent returns true if the payload is an envelope. This lets callers
// filter control traffic without decoding the envelope.
func (k PayloadKind) IsEvent() bool {
	return k == KindEvent || k == KindEventText || k == KindEventBytes
}

// DataKind returns the envelope data kind implied by an event kind.
func (k PayloadKind) DataKind() (DataKind, bool) {
	switch k {
	case KindEvent:
		return DataNone, true
	case KindEventText:
		return DataText, true
	case KindEventBytes:
		return DataBytes, true
	default:
		return DataNone, false
	}
}

type Direction int

const (
	DirectionSent Direction = iota
	DirectionReceived
)

func (d Direction) String() string {
	if d == DirectionReceived {
		return "received"
	}
	return "sent"
}

// Identity tags a message with the player that sent it.
type Identity struct {
	Addr string
	Name string
}

// Message is the unit exchanged between peers.
type Message struct {
	Kind    PayloadKind
	Payload []byte

	// Addr is the peer address: the sender of a received message or the
	// receiver of a sent message.
	Addr string

	// Direction and Time are not sent on the wire. The receiver sets them
	// when decoding.
	Direction Direction
	Time      time.Time

	// Destinations optionally lists the addresses a message should be sent
	// to. If empty the transport decides (such as broadcasting to all
	// connected peers).
	Destinations []string

	Identity *Identity
}

func NewTextMessage(text string) *Message {
	return &Message{
		Kind:    KindText,
		Payload: []byte(text),
	}
}

func NewImageMessage(b []byte) *Message {
	return &Message{
		Kind:    KindImage,
		Payload: b,
	}
}

func newKeepAliveMessage() *Message {
	return &Message{
		Kind: KindNone,
	}
}

// Text returns the payload as a string.
func (m *Message) Text() string {
	return string(m.Payload)
}

// Timestamp returns a human readable timestamp.
func (m *Message) Timestamp() string {
	return m.Time.Format("15:04:05")
}

// Validate checks the payload agrees with the kind.
func (m *Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int32(m.Kind))
	}
	if m.Identity != nil && m.Identity.Name == "" {
		return ErrEmptyDisplayName
	}
	if m.Kind == KindNone {
		if len(m.Payload) != 0 {
			return fmt.Errorf("%w: %s kind must have no payload", ErrKindMismatch, m.Kind)
		}
		return nil
	}
	if m.Payload == nil {
		return fmt.Errorf("%w: %s", ErrNilPayload, m.Kind)
	}
	if m.Kind == KindText && !utf8.Valid(m.Payload) {
		return fmt.Errorf("%w: text payload is not valid utf-8", ErrKindMismatch)
	}
	return nil
}

// Equal compares the fields carried on the wire.
func (m *Message) Equal(o *Message) bool {
	if m.Kind != o.Kind || !bytes.Equal(m.Payload, o.Payload) {
		return false
	}
	if len(m.Destinations) != len(o.Destinations) {
		return false
	}
	for i := range m.Destinations {
		if m.Destinations[i] != o.Destinations[i] {
			return false
		}
	}
	if (m.Identity == nil) != (o.Identity == nil) {
		return false
	}
	return m.Identity == nil || *m.Identity == *o.Identity
}

// Clone returns a shallow copy with its own destination slice, so a transport
// can stamp Addr and Direction without mutating the caller's message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Destinations != nil {
		c.Destinations = append([]string(nil), m.Destinations...)
	}
	return &c
}
