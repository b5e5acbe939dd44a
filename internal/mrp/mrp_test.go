package mrp

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReceiverDeliversInOrderDespiteReordering(t *testing.T) {
	var delivered [][]byte
	recv := NewReceiver(testLogger(), func(b []byte) {
		delivered = append(delivered, append([]byte(nil), b...))
	}, nil)

	pkts := []Packet{
		{SeqNum: 0, NumPackets: 1, Content: []byte("a")},
		{SeqNum: 1, NumPackets: 1, Content: []byte("b")},
		{SeqNum: 2, NumPackets: 1, Content: []byte("c")},
	}
	// Arrive out of order: 2, 0, 1.
	recv.Receive(pkts[2])
	recv.Receive(pkts[0])
	recv.Receive(pkts[1])

	if len(delivered) != 3 {
		t.Fatalf("expected 3 delivered messages, got %d", len(delivered))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if string(delivered[i]) != w {
			t.Errorf("delivered[%d] = %q, want %q", i, delivered[i], w)
		}
	}
}

func TestReceiverDuplicateSeqnumIsIdempotent(t *testing.T) {
	count := 0
	recv := NewReceiver(testLogger(), func(b []byte) { count++ }, nil)
	pkt := Packet{SeqNum: 0, NumPackets: 1, Content: []byte("x")}
	recv.Receive(pkt)
	recv.Receive(pkt)
	recv.Receive(pkt)
	if count != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
}

func TestReceiverReassemblesFragments(t *testing.T) {
	var delivered []byte
	recv := NewReceiver(testLogger(), func(b []byte) { delivered = b }, nil)

	full := "hello world"
	recv.Receive(Packet{SeqNum: 0, NumPackets: 2, ContentLength: uint32(len(full)), Content: []byte("hello ")})
	recv.Receive(Packet{SeqNum: 1, NumPackets: 2, Content: []byte("world")})

	if string(delivered) != full {
		t.Fatalf("got %q, want %q", delivered, full)
	}
}

func TestReceiverDiscardsOnLengthMismatch(t *testing.T) {
	delivered := false
	recv := NewReceiver(testLogger(), func(b []byte) { delivered = true }, nil)

	recv.Receive(Packet{SeqNum: 0, NumPackets: 2, ContentLength: 100, Content: []byte("short")})
	recv.Receive(Packet{SeqNum: 1, NumPackets: 2, Content: []byte("!")})

	if delivered {
		t.Fatal("expected message to be discarded on length mismatch")
	}
}

func TestSenderAckRemovesPacketFromInFlight(t *testing.T) {
	var sent []Packet
	s := NewSender(testLogger(), func(p Packet) { sent = append(sent, p) })
	s.retryEvery = 0 // fire immediately for the test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Send(ctx, []byte("hi"), 0)

	if len(sent) == 0 {
		t.Fatal("expected at least one send")
	}
	s.Ack(sent[0].SeqNum)

	s.mu.Lock()
	_, stillInFlight := s.inFlight[sent[0].SeqNum]
	s.mu.Unlock()
	if stillInFlight {
		t.Fatal("expected packet to be removed from in-flight set after ack")
	}
}

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	pkt := Packet{SeqNum: 7, AckNum: 3, NumPackets: 2, ContentLength: 9, Content: []byte("fragment1")}
	got, err := DecodePacket(EncodePacket(pkt))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SeqNum != pkt.SeqNum || got.AckNum != pkt.AckNum || got.NumPackets != pkt.NumPackets || got.ContentLength != pkt.ContentLength {
		t.Fatalf("header mismatch: got %+v, want %+v", got, pkt)
	}
	if string(got.Content) != string(pkt.Content) {
		t.Fatalf("content mismatch: got %q, want %q", got.Content, pkt.Content)
	}
}

func TestDecodePacketRejectsShortInput(t *testing.T) {
	if _, err := DecodePacket([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a header-less input")
	}
}
