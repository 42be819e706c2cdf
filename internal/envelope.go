package internal

import (
	"fmt"
)

// OpCode identifies a control operation. The ordinals are sent on the wire
// so must never be reordered.
type OpCode int32

const (
	OpConnect OpCode = iota
	OpConnectAck
	OpDisconnect
	OpPlayerList
	OpStateQuery
	OpStateReply
	OpGameStart
	OpTurn
	OpAction
	OpGameOver
	OpPing

	opMax
)

var opNames = [...]string{
	OpConnect:    "connect",
	OpConnectAck: "connect-ack",
	OpDisconnect: "disconnect",
	OpPlayerList: "player-list",
	OpStateQuery: "state-query",
	OpStateReply: "state-reply",
	OpGameStart:  "game-start",
	OpTurn:       "turn",
	OpAction:     "action",
	OpGameOver:   "game-over",
	OpPing:       "ping",
}

func (op OpCode) Valid() bool {
	return op >= 0 && op < opMax
}

func (op OpCode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("op(%d)", int32(op))
	}
	return opNames[op]
}

// DataKind is the type of data carried by an envelope. It is not encoded in
// the envelope itself but inferred from the frame payload kind.
type DataKind int

const (
	DataNone DataKind = iota
	DataText
	DataBytes
)

func (k DataKind) payloadKind() PayloadKind {
	switch k {
	case DataText:
		return KindEventText
	case DataBytes:
		return KindEventBytes
	default:
		return KindEvent
	}
}

type EnvelopeData struct {
	Kind  DataKind
	Text  string
	Bytes []byte
}

// Envelope is a control message nested inside a frame payload.
type Envelope struct {
	Op OpCode
	// Dest is an alternate destination address, used when the host relays
	// on behalf of another peer. Empty if unset.
	Dest string
	Data EnvelopeData
}

func NewEnvelope(op OpCode) *Envelope {
	return &Envelope{
		Op: op,
	}
}

func NewTextEnvelope(op OpCode, text string) *Envelope {
	return &Envelope{
		Op: op,
		Data: EnvelopeData{
			Kind: DataText,
			Text: text,
		},
	}
}

func NewBytesEnvelope(op OpCode, b []byte) *Envelope {
	return &Envelope{
		Op: op,
		Data: EnvelopeData{
			Kind:  DataBytes,
			Bytes: b,
		},
	}
}

// EncodeEnvelope encodes the envelope into a frame payload.
//
// Layout (big-endian):
//
//	int32     op code
//	bool      has destination
//	[string]  destination
//	text:  string
//	bytes: int32 length + bytes
//	none:  nothing
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if !env.Op.Valid() {
		return nil, fmt.Errorf("failed to encode envelope: %w: %d", ErrUnknownOpCode, int32(env.Op))
	}

	e := newEncoder(int32Len + boolLen + uint16Len + len(env.Dest) + int32Len + len(env.Data.Text) + len(env.Data.Bytes))
	e.encodeInt32(int32(env.Op))
	e.encodeBool(env.Dest != "")
	if env.Dest != "" {
		if err := e.encodeString(env.Dest); err != nil {
			return nil, fmt.Errorf("failed to encode envelope destination: %w", err)
		}
	}

	switch env.Data.Kind {
	case DataNone:
	case DataText:
		if err := e.encodeString(env.Data.Text); err != nil {
			return nil, fmt.Errorf("failed to encode envelope text: %w", err)
		}
	case DataBytes:
		e.encodeBytes(env.Data.Bytes)
	default:
		return nil, fmt.Errorf("failed to encode envelope: unknown data kind: %d", env.Data.Kind)
	}
	return e.Bytes(), nil
}

// DecodeEnvelope decodes a frame payload into an envelope. The data kind
// must come from the frame payload kind (see PayloadKind.DataKind).
func DecodeEnvelope(kind DataKind, b []byte) (*Envelope, error) {
	d := newDecoder(b)
	env, err := decodeEnvelope(d, kind)
	if err != nil {
		return nil, &EnvelopeError{Offset: d.Offset(), Err: err}
	}
	return env, nil
}

func decodeEnvelope(d *decoder, kind DataKind) (*Envelope, error) {
	op, err := d.decodeInt32()
	if err != nil {
		return nil, err
	}
	if !OpCode(op).Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpCode, op)
	}

	env := &Envelope{
		Op: OpCode(op),
		Data: EnvelopeData{
			Kind: kind,
		},
	}

	hasDest, err := d.decodeBool()
	if err != nil {
		return nil, err
	}
	if hasDest {
		if env.Dest, err = d.decodeString(); err != nil {
			return nil, err
		}
	}

	switch kind {
	case DataNone:
	case DataText:
		if env.Data.Text, err = d.decodeString(); err != nil {
			return nil, err
		}
	case DataBytes:
		if env.Data.Bytes, err = d.decodeBytes(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown data kind: %d", kind)
	}

	if err = d.done(); err != nil {
		return nil, err
	}
	return env, nil
}

// NewEventMessage wraps the envelope in a message whose payload kind matches
// the envelope data kind.
func NewEventMessage(env *Envelope) (*Message, error) {
	b, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return &Message{
		Kind:    env.Data.Kind.payloadKind(),
		Payload: b,
	}, nil
}

// Envelope decodes the message payload as an envelope. Fails if the message
// is not an event.
func (m *Message) Envelope() (*Envelope, error) {
	kind, ok := m.Kind.DataKind()
	if !ok {
		return nil, &EnvelopeError{Err: fmt.Errorf("%s message is not an event", m.Kind)}
	}
	return DecodeEnvelope(kind, m.Payload)
}
