// Package wire implements the signaling codec (C1): encoding and decoding of
// CallingMessage envelopes exchanged over the embedder's messaging
// transport. The wire form is a compact tag/length-delimited binary shape
// built directly on protobuf's low-level varint/tag primitives rather than
// a generated message type, so there is no codegen step between this
// package and the wire.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sebas/ringrtc/internal/calling"
)

// Field numbers are stable per message kind; they double as the variant tag
// for the envelope's oneof-like "which field is present" decoding.
const (
	fieldOffer               = 1
	fieldAnswer              = 2
	fieldIceCandidates       = 3
	fieldHangup              = 4
	fieldBusy                = 5
	fieldOpaque              = 6
	fieldDestinationDeviceId = 7
)

// within Offer/Hangup sub-messages.
const (
	subFieldCallId  = 1
	subFieldType    = 2
	subFieldOpaque  = 3
	subFieldDeviceId = 4
)

// HangupType enumerates the wire hangup variants of §6.
type HangupType uint64

const (
	HangupNormal HangupType = iota
	HangupAccepted
	HangupDeclined
	HangupBusy
	HangupNeedPermission
)

// OfferType enumerates the wire offer media kinds of §6.
type OfferType uint64

const (
	OfferAudio OfferType = 0
	OfferVideo OfferType = 1
)

// CodecError reports a malformed or unrecognized wire message. It is never
// fatal: C4 drops the message and logs at warn level.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string { return "wire: " + e.Reason }

// Offer is the wire shape of an outbound/inbound call offer.
type Offer struct {
	CallId calling.CallId
	Type   OfferType
	Opaque []byte
}

// Answer is the wire shape of a call answer.
type Answer struct {
	CallId calling.CallId
	Opaque []byte
}

// IceCandidates is the wire shape of a batch of ICE candidates.
type IceCandidates struct {
	CallId     calling.CallId
	Candidates [][]byte
}

// Hangup is the wire shape of a hangup notification.
type Hangup struct {
	CallId   calling.CallId
	Type     HangupType
	DeviceId calling.DeviceId
}

// Busy is the wire shape of a busy notification.
type Busy struct {
	CallId calling.CallId
}

// Message is the decoded CallingMessage envelope. Well-formed messages carry
// exactly one payload field; the codec enforces this on neither side —
// Encode writes every non-nil field and Decode fills every field present.
type Message struct {
	Offer               *Offer
	Answer              *Answer
	IceCandidates       *IceCandidates
	Hangup              *Hangup
	Busy                *Busy
	Opaque              []byte
	DestinationDeviceId *calling.DeviceId
}

// Encode serializes msg to its wire form.
func Encode(msg Message) []byte {
	var b []byte
	if msg.Offer != nil {
		b = protowire.AppendTag(b, fieldOffer, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOffer(msg.Offer))
	}
	if msg.Answer != nil {
		b = protowire.AppendTag(b, fieldAnswer, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAnswer(msg.Answer))
	}
	if msg.IceCandidates != nil {
		b = protowire.AppendTag(b, fieldIceCandidates, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeIceCandidates(msg.IceCandidates))
	}
	if msg.Hangup != nil {
		b = protowire.AppendTag(b, fieldHangup, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHangup(msg.Hangup))
	}
	if msg.Busy != nil {
		b = protowire.AppendTag(b, fieldBusy, protowire.BytesType)
		inner := protowire.AppendTag(nil, subFieldCallId, protowire.VarintType)
		inner = protowire.AppendVarint(inner, uint64(msg.Busy.CallId))
		b = protowire.AppendBytes(b, inner)
	}
	if msg.Opaque != nil {
		b = protowire.AppendTag(b, fieldOpaque, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Opaque)
	}
	if msg.DestinationDeviceId != nil {
		b = protowire.AppendTag(b, fieldDestinationDeviceId, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*msg.DestinationDeviceId))
	}
	return b
}

func encodeOffer(o *Offer) []byte {
	var b []byte
	b = protowire.AppendTag(b, subFieldCallId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.CallId))
	b = protowire.AppendTag(b, subFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Type))
	b = protowire.AppendTag(b, subFieldOpaque, protowire.BytesType)
	b = protowire.AppendBytes(b, o.Opaque)
	return b
}

func encodeAnswer(a *Answer) []byte {
	var b []byte
	b = protowire.AppendTag(b, subFieldCallId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.CallId))
	b = protowire.AppendTag(b, subFieldOpaque, protowire.BytesType)
	b = protowire.AppendBytes(b, a.Opaque)
	return b
}

func encodeIceCandidates(c *IceCandidates) []byte {
	var b []byte
	b = protowire.AppendTag(b, subFieldCallId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.CallId))
	for _, cand := range c.Candidates {
		b = protowire.AppendTag(b, subFieldOpaque, protowire.BytesType)
		b = protowire.AppendBytes(b, cand)
	}
	return b
}

func encodeHangup(h *Hangup) []byte {
	var b []byte
	b = protowire.AppendTag(b, subFieldCallId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.CallId))
	b = protowire.AppendTag(b, subFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Type))
	b = protowire.AppendTag(b, subFieldDeviceId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.DeviceId))
	return b
}

// Decode parses the wire form produced by Encode. It is total on arbitrary
// byte input: any malformed framing, missing required field, or unknown
// message variant yields a *CodecError rather than a panic.
func Decode(data []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = Message{}
			err = &CodecError{Reason: fmt.Sprintf("panic during decode: %v", r)}
		}
	}()

	b := data
	sawKnownField := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, &CodecError{Reason: "malformed tag"}
		}
		b = b[n:]

		switch num {
		case fieldOffer:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			offer, derr := decodeOffer(sub)
			if derr != nil {
				return Message{}, derr
			}
			msg.Offer = offer
			sawKnownField = true
		case fieldAnswer:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			answer, derr := decodeAnswer(sub)
			if derr != nil {
				return Message{}, derr
			}
			msg.Answer = answer
			sawKnownField = true
		case fieldIceCandidates:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			ice, derr := decodeIceCandidates(sub)
			if derr != nil {
				return Message{}, derr
			}
			if msg.IceCandidates == nil {
				msg.IceCandidates = ice
			} else {
				msg.IceCandidates.Candidates = append(msg.IceCandidates.Candidates, ice.Candidates...)
			}
			sawKnownField = true
		case fieldHangup:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			hangup, derr := decodeHangup(sub)
			if derr != nil {
				return Message{}, derr
			}
			msg.Hangup = hangup
			sawKnownField = true
		case fieldBusy:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			busy, derr := decodeBusy(sub)
			if derr != nil {
				return Message{}, derr
			}
			msg.Busy = busy
			sawKnownField = true
		case fieldOpaque:
			sub, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return Message{}, derr
			}
			b = b[n2:]
			msg.Opaque = append([]byte(nil), sub...)
			sawKnownField = true
		case fieldDestinationDeviceId:
			if typ != protowire.VarintType {
				return Message{}, &CodecError{Reason: "destinationDeviceId: wrong wire type"}
			}
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return Message{}, &CodecError{Reason: "destinationDeviceId: malformed varint"}
			}
			b = b[n2:]
			dev := calling.DeviceId(v)
			msg.DestinationDeviceId = &dev
			sawKnownField = true
		default:
			// Unknown field: skip it rather than fail, matching protobuf's
			// forward-compatible unknown-field handling.
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return Message{}, &CodecError{Reason: "unknown field: malformed value"}
			}
			b = b[n2:]
		}
	}

	if !sawKnownField {
		return Message{}, &CodecError{Reason: "unknown message variant"}
	}
	return msg, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, &CodecError{Reason: "expected length-delimited field"}
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, &CodecError{Reason: "malformed length-delimited field"}
	}
	return v, n, nil
}

func decodeOffer(b []byte) (*Offer, error) {
	o := &Offer{}
	haveCallId, haveOpaque := false, false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &CodecError{Reason: "offer: malformed tag"}
		}
		b = b[n:]
		switch num {
		case subFieldCallId:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "offer: malformed callId"}
			}
			b = b[n2:]
			o.CallId = calling.CallId(v)
			haveCallId = true
		case subFieldType:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "offer: malformed type"}
			}
			b = b[n2:]
			o.Type = OfferType(v)
		case subFieldOpaque:
			v, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return nil, derr
			}
			b = b[n2:]
			o.Opaque = append([]byte(nil), v...)
			haveOpaque = true
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "offer: malformed field"}
			}
			b = b[n2:]
		}
	}
	if !haveCallId || !haveOpaque {
		return nil, &CodecError{Reason: "offer: missing required field"}
	}
	return o, nil
}

func decodeAnswer(b []byte) (*Answer, error) {
	a := &Answer{}
	haveCallId, haveOpaque := false, false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &CodecError{Reason: "answer: malformed tag"}
		}
		b = b[n:]
		switch num {
		case subFieldCallId:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "answer: malformed callId"}
			}
			b = b[n2:]
			a.CallId = calling.CallId(v)
			haveCallId = true
		case subFieldOpaque:
			v, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return nil, derr
			}
			b = b[n2:]
			a.Opaque = append([]byte(nil), v...)
			haveOpaque = true
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "answer: malformed field"}
			}
			b = b[n2:]
		}
	}
	if !haveCallId || !haveOpaque {
		return nil, &CodecError{Reason: "answer: missing required field"}
	}
	return a, nil
}

func decodeIceCandidates(b []byte) (*IceCandidates, error) {
	ice := &IceCandidates{}
	haveCallId := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &CodecError{Reason: "iceCandidates: malformed tag"}
		}
		b = b[n:]
		switch num {
		case subFieldCallId:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "iceCandidates: malformed callId"}
			}
			b = b[n2:]
			ice.CallId = calling.CallId(v)
			haveCallId = true
		case subFieldOpaque:
			v, n2, derr := consumeBytes(b, typ)
			if derr != nil {
				return nil, derr
			}
			b = b[n2:]
			ice.Candidates = append(ice.Candidates, append([]byte(nil), v...))
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "iceCandidates: malformed field"}
			}
			b = b[n2:]
		}
	}
	if !haveCallId {
		return nil, &CodecError{Reason: "iceCandidates: missing required field"}
	}
	return ice, nil
}

func decodeHangup(b []byte) (*Hangup, error) {
	h := &Hangup{}
	haveCallId := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &CodecError{Reason: "hangup: malformed tag"}
		}
		b = b[n:]
		switch num {
		case subFieldCallId:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "hangup: malformed callId"}
			}
			b = b[n2:]
			h.CallId = calling.CallId(v)
			haveCallId = true
		case subFieldType:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "hangup: malformed type"}
			}
			b = b[n2:]
			h.Type = HangupType(v)
		case subFieldDeviceId:
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "hangup: malformed deviceId"}
			}
			b = b[n2:]
			h.DeviceId = calling.DeviceId(v)
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "hangup: malformed field"}
			}
			b = b[n2:]
		}
	}
	if !haveCallId {
		return nil, &CodecError{Reason: "hangup: missing required field"}
	}
	return h, nil
}

func decodeBusy(b []byte) (*Busy, error) {
	busy := &Busy{}
	haveCallId := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &CodecError{Reason: "busy: malformed tag"}
		}
		b = b[n:]
		if num == subFieldCallId {
			v, n2 := protowire.ConsumeVarint(b)
			if n2 < 0 {
				return nil, &CodecError{Reason: "busy: malformed callId"}
			}
			b = b[n2:]
			busy.CallId = calling.CallId(v)
			haveCallId = true
			continue
		}
		n2 := protowire.ConsumeFieldValue(num, typ, b)
		if n2 < 0 {
			return nil, &CodecError{Reason: "busy: malformed field"}
		}
		b = b[n2:]
	}
	if !haveCallId {
		return nil, &CodecError{Reason: "busy: missing required field"}
	}
	return busy, nil
}
