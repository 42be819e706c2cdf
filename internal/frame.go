package internal

import (
	"fmt"
	"time"
)

// EncodeMessage encodes the message into a frame.
//
// Frame layout (big-endian):
//
//	int32        payload kind
//	int32        destination count
//	string...    destinations
//	bool         has identity
//	[string]     identity address
//	[string]     identity display name
//	int32        payload length
//	bytes        payload
//
// Strings are prefixed with a uint16 byte length.
func EncodeMessage(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	e := newEncoder(encodedLen(m))
	e.encodeInt32(int32(m.Kind))
	e.encodeInt32(int32(len(m.Destinations)))
	for _, addr := range m.Destinations {
		if err := e.encodeString(addr); err != nil {
			return nil, fmt.Errorf("failed to encode destination: %w", err)
		}
	}
	e.encodeBool(m.Identity != nil)
	if m.Identity != nil {
		if err := e.encodeString(m.Identity.Addr); err != nil {
			return nil, fmt.Errorf("failed to encode identity: %w", err)
		}
		if err := e.encodeString(m.Identity.Name); err != nil {
			return nil, fmt.Errorf("failed to encode identity: %w", err)
		}
	}
	e.encodeBytes(m.Payload)
	return e.Bytes(), nil
}

// DecodeMessage decodes a frame received from the given address. The
// returned message is marked as received at the current time.
func DecodeMessage(from string, b []byte) (*Message, error) {
	d := newDecoder(b)
	m, err := decodeMessage(d)
	if err != nil {
		return nil, &FrameError{Offset: d.Offset(), Err: err}
	}
	m.Addr = from
	m.Direction = DirectionReceived
	m.Time = time.Now()
	return m, nil
}

func decodeMessage(d *decoder) (*Message, error) {
	kind, err := d.decodeInt32()
	if err != nil {
		return nil, err
	}
	if !PayloadKind(kind).Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	m := &Message{
		Kind: PayloadKind(kind),
	}

	count, err := d.decodeLength()
	if err != nil {
		return nil, err
	}
	// Each destination needs at least its length prefix, so reject counts
	// that cannot fit before allocating.
	if count > d.Remaining()/uint16Len {
		return nil, ErrTruncated
	}
	if count > 0 {
		m.Destinations = make([]string, 0, count)
	}
	for i := 0; i != count; i++ {
		addr, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		m.Destinations = append(m.Destinations, addr)
	}

	hasIdentity, err := d.decodeBool()
	if err != nil {
		return nil, err
	}
	if hasIdentity {
		addr, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		name, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, ErrEmptyDisplayName
		}
		m.Identity = &Identity{
			Addr: addr,
			Name: name,
		}
	}

	m.Payload, err = d.decodeBytes()
	if err != nil {
		return nil, err
	}
	if err = d.done(); err != nil {
		return nil, err
	}
	return m, nil
}

func encodedLen(m *Message) int {
	n := int32Len + int32Len + boolLen + int32Len + len(m.Payload)
	for _, addr := range m.Destinations {
		n += uint16Len + len(addr)
	}
	if m.Identity != nil {
		n += uint16Len + len(m.Identity.Addr) + uint16Len + len(m.Identity.Name)
	}
	return n
}
