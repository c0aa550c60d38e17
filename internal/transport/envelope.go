package transport

import "time"

// Encoding describes how an envelope payload should be interpreted
type Encoding string

const (
	// EncodingRaw marks an opaque byte payload
	EncodingRaw Encoding = "raw"
	// EncodingJSON marks a structured value encoded by the Codec
	EncodingJSON Encoding = "json"
)

// Envelope is the unit of transport between stages.
//
// Exactly one of Payload and OverflowRef is populated: payloads larger than
// the channel's inline threshold are spilled and only the reference travels.
type Envelope struct {
	ID          string
	Payload     []byte
	Size        int
	OverflowRef string
	Encoding    Encoding
	SentAt      time.Time
}

// Spilled reports whether the payload lives in overflow storage
func (e *Envelope) Spilled() bool {
	return e.OverflowRef != ""
}
