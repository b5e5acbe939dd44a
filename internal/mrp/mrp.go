// Package mrp implements the Media Reliable Protocol (C2): ordered,
// reliable delivery of group-call in-band control messages over the
// unreliable RTP data channel, including reassembly of payloads fragmented
// across multiple packets.
package mrp

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Packet is one MRP datagram as carried inside a DeviceToSfu/SfuToDevice
// mrpHeader+content field, per §6.
type Packet struct {
	SeqNum        uint32
	AckNum        uint32
	NumPackets    uint32
	ContentLength uint32 // only meaningful on the first fragment
	Content       []byte
}

// packetHeaderLen is the fixed-size prefix EncodePacket/DecodePacket use to
// carry a Packet over a byte-oriented channel (the MRP data channel or, in
// this repository's test harness, a websocket).
const packetHeaderLen = 16

// EncodePacket serializes pkt to the byte form carried inside a
// DeviceToSfu/SfuToDevice mrpHeader+content field.
func EncodePacket(pkt Packet) []byte {
	b := make([]byte, packetHeaderLen+len(pkt.Content))
	binary.BigEndian.PutUint32(b[0:4], pkt.SeqNum)
	binary.BigEndian.PutUint32(b[4:8], pkt.AckNum)
	binary.BigEndian.PutUint32(b[8:12], pkt.NumPackets)
	binary.BigEndian.PutUint32(b[12:16], pkt.ContentLength)
	copy(b[packetHeaderLen:], pkt.Content)
	return b
}

// DecodePacket parses the byte form produced by EncodePacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < packetHeaderLen {
		return Packet{}, errors.New("mrp: packet shorter than header")
	}
	return Packet{
		SeqNum:        binary.BigEndian.Uint32(b[0:4]),
		AckNum:        binary.BigEndian.Uint32(b[4:8]),
		NumPackets:    binary.BigEndian.Uint32(b[8:12]),
		ContentLength: binary.BigEndian.Uint32(b[12:16]),
		Content:       append([]byte(nil), b[packetHeaderLen:]...),
	}, nil
}

// Sender is a send-side endpoint of an MRP reliable stream. It maintains an
// in-flight window and retransmits unacked packets on a bounded schedule.
type Sender struct {
	log *slog.Logger
	tx  func(Packet)

	mu        sync.Mutex
	nextSeq   uint32
	inFlight  map[uint32]*inFlightPacket
	maxRetries int
	retryEvery time.Duration
}

type inFlightPacket struct {
	packet  Packet
	sentAt  time.Time
	retries int
	cancel  context.CancelFunc
}

// NewSender builds a Sender that hands outbound packets to tx.
func NewSender(log *slog.Logger, tx func(Packet)) *Sender {
	return &Sender{
		log:        log,
		tx:         tx,
		inFlight:   make(map[uint32]*inFlightPacket),
		maxRetries: 3,
		retryEvery: 2 * time.Second,
	}
}

// Send fragments content (if needed) and transmits it reliably, bounded by
// ctx: on ctx.Done the packets stop retransmitting but any already-sent
// attempt is left to complete, matching §5's cancellation semantics.
func (s *Sender) Send(ctx context.Context, content []byte, fragmentSize int) {
	if fragmentSize <= 0 {
		fragmentSize = len(content)
		if fragmentSize == 0 {
			fragmentSize = 1
		}
	}
	var fragments [][]byte
	for off := 0; off < len(content); off += fragmentSize {
		end := off + fragmentSize
		if end > len(content) {
			end = len(content)
		}
		fragments = append(fragments, content[off:end])
	}
	if len(fragments) == 0 {
		fragments = [][]byte{{}}
	}

	s.mu.Lock()
	numPackets := uint32(len(fragments))
	for i, frag := range fragments {
		seq := s.nextSeq
		s.nextSeq++
		pkt := Packet{SeqNum: seq, NumPackets: numPackets, Content: frag}
		if i == 0 {
			pkt.ContentLength = uint32(len(content))
		}
		pctx, cancel := context.WithCancel(ctx)
		s.inFlight[seq] = &inFlightPacket{packet: pkt, sentAt: time.Now(), cancel: cancel}
		s.tx(pkt)
		go s.watchAck(pctx, seq)
	}
	s.mu.Unlock()
}

func (s *Sender) watchAck(ctx context.Context, seq uint32) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryEvery):
			s.mu.Lock()
			entry, ok := s.inFlight[seq]
			if !ok {
				s.mu.Unlock()
				return
			}
			if entry.retries >= s.maxRetries {
				s.log.Warn("mrp: giving up retransmitting packet", "seqnum", seq)
				delete(s.inFlight, seq)
				s.mu.Unlock()
				return
			}
			entry.retries++
			s.tx(entry.packet)
			s.mu.Unlock()
		}
	}
}

// Ack marks seq (and everything the peer has cumulatively acked up to it)
// as delivered, stopping its retransmission.
func (s *Sender) Ack(ackNum uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for seq, entry := range s.inFlight {
		if seq <= ackNum {
			entry.cancel()
			delete(s.inFlight, seq)
		}
	}
}

// Receiver is the receive-side endpoint of an MRP reliable stream. It
// buffers out-of-order packets, reassembles fragmented payloads, and
// delivers each complete message to onMessage exactly once, in sender
// order.
type Receiver struct {
	log       *slog.Logger
	onMessage func([]byte)
	sendAck   func(ackNum uint32)

	mu         sync.Mutex
	nextSeq    uint32
	buffered   map[uint32]Packet
	delivered  map[uint32]bool // duplicate seqnum detection, idempotent re-delivery guard
	reassembly *reassemblyState
}

type reassemblyState struct {
	startSeq      uint32
	wantLength    uint32
	numPackets    uint32
	gotPackets    uint32
	content       []byte
}

// NewReceiver builds a Receiver that delivers completed messages to
// onMessage and emits cumulative acks via sendAck.
func NewReceiver(log *slog.Logger, onMessage func([]byte), sendAck func(ackNum uint32)) *Receiver {
	return &Receiver{
		log:       log,
		onMessage: onMessage,
		sendAck:   sendAck,
		buffered:  make(map[uint32]Packet),
		delivered: make(map[uint32]bool),
	}
}

// Receive processes one inbound packet. Out-of-order arrivals are buffered;
// a duplicate seqnum is a no-op.
func (r *Receiver) Receive(pkt Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.delivered[pkt.SeqNum] {
		return // duplicate: idempotent
	}
	r.buffered[pkt.SeqNum] = pkt

	for {
		pkt, ok := r.buffered[r.nextSeq]
		if !ok {
			break
		}
		delete(r.buffered, r.nextSeq)
		r.delivered[r.nextSeq] = true
		r.nextSeq++
		r.consume(pkt)
	}

	if r.sendAck != nil && r.nextSeq > 0 {
		r.sendAck(r.nextSeq - 1)
	}
}

// consume feeds one in-order packet into the reassembly state machine.
// Caller holds r.mu.
func (r *Receiver) consume(pkt Packet) {
	if pkt.NumPackets <= 1 {
		r.onMessage(pkt.Content)
		return
	}

	if r.reassembly == nil {
		r.reassembly = &reassemblyState{
			startSeq:   pkt.SeqNum,
			wantLength: pkt.ContentLength,
			numPackets: pkt.NumPackets,
		}
	}
	rs := r.reassembly
	rs.content = append(rs.content, pkt.Content...)
	rs.gotPackets++

	if rs.gotPackets < rs.numPackets {
		return
	}

	if uint32(len(rs.content)) != rs.wantLength {
		r.log.Warn("mrp: reassembled length mismatch, discarding message",
			"want", rs.wantLength, "got", len(rs.content))
		r.reassembly = nil
		return
	}

	r.onMessage(rs.content)
	r.reassembly = nil
}
