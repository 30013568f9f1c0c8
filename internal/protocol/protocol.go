package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags the category of a Message on the wire.
type Kind uint8

const (
	KindChat   Kind = 1
	KindSystem Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Version is the schema version written as the first byte of every body.
const Version byte = 1

const (
	headerSize     = 4 // frame length prefix
	bodyHeaderSize = 2 // version + kind

	// DefaultMaxBodySize bounds a single frame body. Larger frames are rejected
	// before any allocation happens.
	DefaultMaxBodySize = 64 * 1024
)

// Reserved payload vocabulary. A command is CommandPrefix followed by its name.
const (
	CommandPrefix = "/"
	CmdJoin       = "join"
	CmdQuit       = "quit"
	CmdShutdown   = "shutdown"
)

var (
	ErrBodyTooShort       = errors.New("body too short")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrEmptyFrame         = errors.New("empty frame")
)

// Message is the immutable record exchanged between peers. Kind travels in the
// body header; every other field is part of the JSON record.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"-"`
	Sender    string    `json:"sender,omitempty"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChat creates a chat message stamped with the current time.
func NewChat(sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindChat,
		Sender:    sender,
		Payload:   text,
		CreatedAt: time.Now(),
	}
}

// NewSystem creates a server-originated notice.
func NewSystem(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindSystem,
		Payload:   text,
		CreatedAt: time.Now(),
	}
}

// NewCommand creates a chat message whose payload is the reserved command name.
func NewCommand(sender, name string) Message {
	return NewChat(sender, CommandPrefix+name)
}

// NewShutdown creates the sentinel broadcast once before server teardown.
func NewShutdown() Message {
	return NewSystem(CommandPrefix + CmdShutdown)
}

// Command reports the command name when the payload carries the reserved prefix.
func (m Message) Command() (string, bool) {
	if !strings.HasPrefix(m.Payload, CommandPrefix) {
		return "", false
	}
	return strings.TrimPrefix(m.Payload, CommandPrefix), true
}

// IsShutdown reports whether m is the server shutdown sentinel.
func (m Message) IsShutdown() bool {
	return m.Kind == KindSystem && m.Payload == CommandPrefix+CmdShutdown
}

// Encode serializes m into a frame body: [version][kind][json record].
func Encode(m Message) ([]byte, error) {
	if m.Kind != KindChat && m.Kind != KindSystem {
		return nil, fmt.Errorf("encode: %w: %d", ErrUnknownKind, m.Kind)
	}

	record, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	out := make([]byte, bodyHeaderSize+len(record))
	out[0] = Version
	out[1] = byte(m.Kind)
	copy(out[bodyHeaderSize:], record)
	return out, nil
}

// Decode parses a frame body produced by Encode.
func Decode(body []byte) (Message, error) {
	if len(body) < bodyHeaderSize {
		return Message{}, ErrBodyTooShort
	}
	if body[0] != Version {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, body[0])
	}

	kind := Kind(body[1])
	if kind != KindChat && kind != KindSystem {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, body[1])
	}

	var m Message
	if err := json.Unmarshal(body[bodyHeaderSize:], &m); err != nil {
		return Message{}, fmt.Errorf("decode record: %w", err)
	}
	m.Kind = kind
	return m, nil
}

// WriteFrame writes body prefixed with its 4-byte big-endian length in a single
// Write call, so concurrent writers serialized by the caller never interleave.
func WriteFrame(w io.Writer, body []byte, maxSize int) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if maxSize > 0 && len(body) > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(body), maxSize)
	}

	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(body)))
	copy(buf[headerSize:], body)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one length-prefixed body from r. A body may arrive
// across any number of reads.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var lenBuf [headerSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if maxSize > 0 && n > uint32(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("incomplete frame: %w", err)
	}
	return body, nil
}
