package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HeaderCommandName carries the command kind when the body omits it.
const HeaderCommandName = "command-name"

var (
	// ErrDecode marks records that can never become a valid command.
	ErrDecode = errors.New("command decode failed")
	// ErrUnknownCommand marks a command name nothing is registered for.
	ErrUnknownCommand = errors.New("unknown command")
)

// DecodeError wraps the reason a broker record could not be decoded.
// Name is set once the command name could be read.
type DecodeError struct {
	Reason string
	Name   string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode command: %s", e.Reason)
	}
	return fmt.Sprintf("decode command: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// Record is a broker record as delivered by a partition consumer.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Coordinates renders topic/partition/offset for logging and id derivation.
func (r Record) Coordinates() string {
	return fmt.Sprintf("%s/%d/%d", r.Topic, r.Partition, r.Offset)
}

// Message is the JSON wire form of a command.
type Message struct {
	ID          string          `json:"id,omitempty"`
	CommandName string          `json:"commandName"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Decoder turns broker records into commands without touching any I/O.
type Decoder struct {
	known map[string]struct{}
}

// DecoderOption customizes a Decoder.
type DecoderOption func(*Decoder)

// WithKnownCommands rejects records whose command name is not listed.
func WithKnownCommands(names ...string) DecoderOption {
	return func(d *Decoder) {
		if d.known == nil {
			d.known = make(map[string]struct{}, len(names))
		}
		for _, name := range names {
			d.known[name] = struct{}{}
		}
	}
}

// NewDecoder builds a decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode produces exactly one command from the record or a *DecodeError.
func (d *Decoder) Decode(record Record) (Command, error) {
	value := bytes.TrimSpace(record.Value)
	if len(value) == 0 {
		return Command{}, &DecodeError{Reason: "empty record value"}
	}

	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return Command{}, &DecodeError{Reason: "invalid json", Err: err}
	}

	name := strings.TrimSpace(msg.CommandName)
	if name == "" {
		name = strings.TrimSpace(record.Headers[HeaderCommandName])
	}
	if name == "" {
		return Command{}, &DecodeError{Reason: "commandName missing"}
	}
	if d.known != nil {
		if _, ok := d.known[name]; !ok {
			return Command{}, &DecodeError{Reason: fmt.Sprintf("unknown commandName %q", name), Name: name, Err: ErrUnknownCommand}
		}
	}

	payload, err := decodePayload(msg.Payload)
	if err != nil {
		return Command{}, withName(err, name)
	}

	id, err := decodeID(msg.ID, record)
	if err != nil {
		return Command{}, withName(err, name)
	}

	timestamp, err := decodeTimestamp(msg.Timestamp, record)
	if err != nil {
		return Command{}, withName(err, name)
	}

	return restore(id, name, timestamp, payload), nil
}

// Encode renders the command in its wire form.
func Encode(c Command) ([]byte, error) {
	payload, err := json.Marshal(c.payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(Message{
		ID:          c.id.String(),
		CommandName: c.name,
		Timestamp:   c.timestamp.Format(time.RFC3339Nano),
		Payload:     payload,
	})
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, &DecodeError{Reason: "payload is not an object"}
	}
	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, &DecodeError{Reason: "invalid payload", Err: err}
	}
	return payload, nil
}

func decodeID(raw string, record Record) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(record.Coordinates())), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &DecodeError{Reason: "invalid id", Err: err}
	}
	if id == uuid.Nil {
		return uuid.Nil, &DecodeError{Reason: "nil id"}
	}
	return id, nil
}

func decodeTimestamp(raw string, record Record) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if !record.Timestamp.IsZero() {
			return record.Timestamp.UTC(), nil
		}
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &DecodeError{Reason: "invalid timestamp", Err: err}
	}
	return parsed.UTC(), nil
}

func withName(err error, name string) error {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		decodeErr.Name = name
	}
	return err
}
