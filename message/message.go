// Package message defines the event messages exchanged with the match
// coordinator and their canonical encodings: compact JSON for the session log
// and length-prefixed frames for the wire.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known message names.
const (
	NameStatus   = "status"
	NameShutdown = "shutdown"
	NameToken    = "token"
)

var (
	// ErrArgIndex is returned when an argument index is out of range.
	ErrArgIndex = errors.New("argument index out of range")
	// ErrArgType is returned when an argument cannot be decoded as the requested type.
	ErrArgType = errors.New("argument has unexpected type")
)

// Message is a single event: a name used as a discriminator and an ordered
// list of arguments of varying JSON types. Arguments are kept as raw JSON so
// that a message read from the wire is logged exactly as it was received.
type Message struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

// New builds a Message, encoding each argument to JSON.
//
// Parameters:
//   - name: The message name
//   - args: Argument values; each must be JSON-encodable
//
// Returns:
//   - The Message, or an error if an argument could not be encoded
func New(name string, args ...any) (Message, error) {
	msg := Message{Name: name, Args: make([]json.RawMessage, 0, len(args))}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Message{}, fmt.Errorf("encode argument %d of %q: %w", i, name, err)
		}

		msg.Args = append(msg.Args, raw)
	}

	return msg, nil
}

// MustNew is like New but panics if an argument cannot be encoded. Intended
// for literals in tests and fixtures.
func MustNew(name string, args ...any) Message {
	msg, err := New(name, args...)
	if err != nil {
		panic(err)
	}

	return msg
}

// Arg returns the raw JSON of argument i.
//
// Parameters:
//   - i: Zero-based argument index
//
// Returns:
//   - The raw argument, or ErrArgIndex if i is out of range
func (m Message) Arg(i int) (json.RawMessage, error) {
	if i < 0 || i >= len(m.Args) {
		return nil, fmt.Errorf("%w: %q has %d args, want index %d", ErrArgIndex, m.Name, len(m.Args), i)
	}

	return m.Args[i], nil
}

// Float decodes argument i as a float64. JSON numbers and numeric strings
// are accepted.
//
// Parameters:
//   - i: Zero-based argument index
//
// Returns:
//   - The decoded value, or an error wrapping ErrArgIndex or ErrArgType
func (m Message) Float(i int) (float64, error) {
	raw, err := m.Arg(i)
	if err != nil {
		return 0, err
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	}

	return 0, fmt.Errorf("%w: %q arg %d is %s, want number", ErrArgType, m.Name, i, raw)
}

// String decodes argument i as a string.
func (m Message) String(i int) (string, error) {
	raw, err := m.Arg(i)
	if err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %q arg %d is %s, want string", ErrArgType, m.Name, i, raw)
	}

	return s, nil
}

// Marshal returns the canonical text form of m: compact JSON with the keys
// "name" and "args". A nil argument list encodes as an empty array.
func Marshal(m Message) ([]byte, error) {
	if m.Args == nil {
		m.Args = []json.RawMessage{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message %q: %w", m.Name, err)
	}

	return data, nil
}

// Unmarshal decodes the canonical text form produced by Marshal. Each
// argument is re-encoded the way Marshal writes it (compact, HTML-escaped),
// so a message decoded from the wire, logged and read back compares equal.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}

	if m.Name == "" {
		return Message{}, fmt.Errorf("unmarshal message: missing name")
	}

	if m.Args == nil {
		m.Args = []json.RawMessage{}
	}

	for i, raw := range m.Args {
		canonical, err := json.Marshal(raw)
		if err != nil {
			return Message{}, fmt.Errorf("unmarshal message %q arg %d: %w", m.Name, i, err)
		}

		m.Args[i] = canonical
	}

	return m, nil
}
