package pipeline

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/assemblyline/internal/transport"
)

// Message is a received envelope with its payload loaded
type Message struct {
	ID       string
	Payload  []byte
	Encoding transport.Encoding
	Size     int
	Spilled  bool
	SentAt   time.Time

	codec transport.Codec
}

func newMessage(d *transport.Delivery, codec transport.Codec) *Message {
	return &Message{
		ID:       d.Envelope.ID,
		Payload:  d.Payload,
		Encoding: d.Envelope.Encoding,
		Size:     d.Envelope.Size,
		Spilled:  d.Envelope.Spilled(),
		SentAt:   d.Envelope.SentAt,
		codec:    codec,
	}
}

// Bytes returns the raw payload
func (m *Message) Bytes() []byte {
	return m.Payload
}

// String returns the payload as a string
func (m *Message) String() string {
	return string(m.Payload)
}

// Decode unmarshals a structured payload into v
func (m *Message) Decode(v any) error {
	if m.codec == nil {
		return fmt.Errorf("message %s: no codec", m.ID)
	}
	if err := m.codec.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// encodeValue turns a hook result into a payload: bytes and strings travel
// raw, messages keep their encoding, everything else goes through the codec.
func encodeValue(codec transport.Codec, v any) ([]byte, transport.Encoding, error) {
	switch val := v.(type) {
	case []byte:
		return val, transport.EncodingRaw, nil
	case string:
		return []byte(val), transport.EncodingRaw, nil
	case *Message:
		return val.Payload, val.Encoding, nil
	default:
		data, err := codec.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode %T: %w", v, err)
		}
		return data, transport.EncodingJSON, nil
	}
}
