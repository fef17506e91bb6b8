package api

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope of every frame exchanged over a channel.
//
// A message that expects an acknowledgement carries an AckID. The receiver
// answers with a message that has IsAck set and the same AckID; the Event of
// an acknowledgement repeats the event being acknowledged.
type Message struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
	AckID string            `json:"ack_id,omitempty"`
	IsAck bool              `json:"is_ack,omitempty"`
}

// NewMessage serializes args into a new Message for event.
func NewMessage(event string, args ...interface{}) (*Message, error) {
	msg := &Message{Event: event, Args: make([]json.RawMessage, 0, len(args))}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize argument %d of %s: %w", i, event, err)
		}
		msg.Args = append(msg.Args, b)
	}
	return msg, nil
}

// MustMessage is NewMessage, panicking on serialization errors. Only use it
// with arguments that are known to serialize.
func MustMessage(event string, args ...interface{}) *Message {
	msg, err := NewMessage(event, args...)
	if err != nil {
		panic(err)
	}
	return msg
}

// Ack builds the acknowledgement for this message.
func (m *Message) Ack() *Message {
	return &Message{Event: m.Event, AckID: m.AckID, IsAck: true}
}

// Decode deserializes the argument at index i into v.
func (m *Message) Decode(i int, v interface{}) error {
	if i >= len(m.Args) {
		return fmt.Errorf("%s: missing argument %d (got %d)", m.Event, i, len(m.Args))
	}
	if err := json.Unmarshal(m.Args[i], v); err != nil {
		return fmt.Errorf("%s: invalid argument %d: %w", m.Event, i, err)
	}
	return nil
}

// Clone returns a copy of the message that shares no argument storage with
// the original.
func (m *Message) Clone() *Message {
	c := *m
	c.Args = make([]json.RawMessage, len(m.Args))
	for i, a := range m.Args {
		c.Args[i] = append(json.RawMessage(nil), a...)
	}
	return &c
}
