package peerlink

import (
	"github.com/andydunstall/peerlink/internal"
)

type (
	Message      = internal.Message
	PayloadKind  = internal.PayloadKind
	Direction    = internal.Direction
	Identity     = internal.Identity
	Envelope     = internal.Envelope
	EnvelopeData = internal.EnvelopeData
	OpCode       = internal.OpCode
	DataKind     = internal.DataKind
	Result       = internal.Result
	Results      = internal.Results
	PeerStatus   = internal.PeerStatus

	FrameError    = internal.FrameError
	EnvelopeError = internal.EnvelopeError

	MessageListener = internal.MessageListener
	ErrorListener   = internal.ErrorListener
	LogListener     = internal.LogListener
)

const (
	KindNone       = internal.KindNone
	KindText       = internal.KindText
	KindImage      = internal.KindImage
	KindEvent      = internal.KindEvent
	KindEventText  = internal.KindEventText
	KindEventBytes = internal.KindEventBytes

	DirectionSent     = internal.DirectionSent
	DirectionReceived = internal.DirectionReceived

	OpConnect    = internal.OpConnect
	OpConnectAck = internal.OpConnectAck
	OpDisconnect = internal.OpDisconnect
	OpPlayerList = internal.OpPlayerList
	OpStateQuery = internal.OpStateQuery
	OpStateReply = internal.OpStateReply
	OpGameStart  = internal.OpGameStart
	OpTurn       = internal.OpTurn
	OpAction     = internal.OpAction
	OpGameOver   = internal.OpGameOver
	OpPing       = internal.OpPing

	DataNone  = internal.DataNone
	DataText  = internal.DataText
	DataBytes = internal.DataBytes

	PeerStatusUnknown = internal.PeerStatusUnknown
	PeerStatusUp      = internal.PeerStatusUp
	PeerStatusDown    = internal.PeerStatusDown
)

var (
	ErrTruncated        = internal.ErrTruncated
	ErrNegativeLength   = internal.ErrNegativeLength
	ErrTrailingBytes    = internal.ErrTrailingBytes
	ErrUnknownKind      = internal.ErrUnknownKind
	ErrUnknownOpCode    = internal.ErrUnknownOpCode
	ErrEmptyDisplayName = internal.ErrEmptyDisplayName
	ErrFrameSize        = internal.ErrFrameSize
	ErrDatagramSize     = internal.ErrDatagramSize
	ErrNilPayload       = internal.ErrNilPayload
	ErrKindMismatch     = internal.ErrKindMismatch
	ErrMessageTooLarge  = internal.ErrMessageTooLarge
	ErrNoDestination    = internal.ErrNoDestination
	ErrNotConnected     = internal.ErrNotConnected
	ErrNotStarted       = internal.ErrNotStarted
	ErrTransportClosed  = internal.ErrTransportClosed
	ErrInvalidPort      = internal.ErrInvalidPort
	ErrNoServerAddr     = internal.ErrNoServerAddr
	ErrInvalidConfig    = internal.ErrInvalidConfig
)

func NewTextMessage(text string) *Message {
	return internal.NewTextMessage(text)
}

func NewImageMessage(b []byte) *Message {
	return internal.NewImageMessage(b)
}

func NewEnvelope(op OpCode) *Envelope {
	return internal.NewEnvelope(op)
}

func NewTextEnvelope(op OpCode, text string) *Envelope {
	return internal.NewTextEnvelope(op, text)
}

func NewBytesEnvelope(op OpCode, b []byte) *Envelope {
	return internal.NewBytesEnvelope(op, b)
}

// NewEventMessage returns a message carrying the envelope.
func NewEventMessage(env *Envelope) (*Message, error) {
	return internal.NewEventMessage(env)
}

func EncodeMessage(m *Message) ([]byte, error) {
	return internal.EncodeMessage(m)
}

func DecodeMessage(from string, b []byte) (*Message, error) {
	return internal.DecodeMessage(from, b)
}

// IsProtocolError returns true if err was caused by malformed input from a
// peer.
func IsProtocolError(err error) bool {
	return internal.IsProtocolError(err)
}
