package group

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebas/ringrtc/internal/calling"
	"github.com/sebas/ringrtc/internal/mrp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemberChurnRatchetsOutboundKey(t *testing.T) {
	var peekNotified bool
	c := New(1, testLogger(), Hooks{
		OnPeekChanged: func(p calling.PeekInfo) { peekNotified = true },
	}, 16*time.Second)

	c.JoinCompleted(42, 20)
	c.DeviceJoined(7)

	before := c.OutboundKey()
	c.DeviceLeft(7)
	after := c.OutboundKey()

	if after.RatchetCounter != before.RatchetCounter+1 {
		t.Fatalf("expected ratchetCounter = previous+1, got %d -> %d", before.RatchetCounter, after.RatchetCounter)
	}

	c.UpdatePeek(calling.PeekInfo{})
	if !peekNotified {
		t.Fatal("expected peek observer to be notified")
	}
}

func TestPreviousKeyGenerationAcceptedWithinOverlapWindow(t *testing.T) {
	c := New(1, testLogger(), Hooks{}, 50*time.Millisecond)
	c.JoinCompleted(1, 10)

	key0 := calling.MediaKey{RatchetCounter: 0, Secret: []byte{1}}
	c.ReceivedMediaKey(9, key0)
	key1 := calling.MediaKey{RatchetCounter: 1, Secret: []byte{2}}
	c.ReceivedMediaKey(9, key1)

	if !c.AcceptsKeyGeneration(9, 1) {
		t.Fatal("expected current generation to be accepted")
	}
	if !c.AcceptsKeyGeneration(9, 0) {
		t.Fatal("expected previous generation to be accepted within overlap window")
	}

	time.Sleep(100 * time.Millisecond)
	if c.AcceptsKeyGeneration(9, 0) {
		t.Fatal("expected previous generation to expire after overlap window")
	}
}

func TestEndZeroizesOutboundKeyAndIsIdempotent(t *testing.T) {
	endCount := 0
	c := New(1, testLogger(), Hooks{OnEnded: func(r calling.GroupEndReason) { endCount++ }}, time.Second)
	c.JoinCompleted(1, 10)

	c.End(calling.GroupEndDeviceExplicitlyDisconnected)
	c.End(calling.GroupEndDeviceExplicitlyDisconnected)

	if endCount != 1 {
		t.Fatalf("expected exactly one end event, got %d", endCount)
	}
	for _, b := range c.OutboundKey().Secret {
		if b != 0 {
			t.Fatal("expected outbound key to be zeroized on end")
		}
	}
}

func TestDenyJoinEndsWithDeniedReason(t *testing.T) {
	var reason calling.GroupEndReason
	c := New(1, testLogger(), Hooks{OnEnded: func(r calling.GroupEndReason) { reason = r }}, time.Second)
	if err := c.Join(nil, true); err != nil {
		t.Fatalf("unexpected error from Join: %v", err)
	}
	c.DenyJoin()
	if reason != calling.GroupEndDeniedRequestToJoinCall {
		t.Fatalf("got %v, want DeniedRequestToJoinCall", reason)
	}
}

func TestJoinOpensControlChannelAndVideoRequestIsSentOverMrp(t *testing.T) {
	var sent []byte
	c := New(1, testLogger(), Hooks{
		SendToSfu: func(p mrp.Packet) { sent = append(sent, p.Content...) },
	}, time.Second)
	if err := c.Join(nil, false); err != nil {
		t.Fatalf("unexpected error from Join: %v", err)
	}
	c.JoinCompleted(9, 20)

	framerate := uint32(30)
	c.VideoRequest(map[calling.DemuxId]VideoRequestSpec{
		7: {Width: 640, Height: 480, Framerate: &framerate},
	}, 180)

	if len(sent) == 0 {
		t.Fatal("expected the video request payload to reach the control channel via MRP")
	}
}

func TestAdminActionsRoundTripThroughMrpDecode(t *testing.T) {
	var packets []mrp.Packet
	c := New(1, testLogger(), Hooks{
		SendToSfu: func(p mrp.Packet) { packets = append(packets, p) },
	}, time.Second)

	c.ApproveUser(3)
	c.RemoveClient(4)

	if len(packets) != 2 {
		t.Fatalf("expected 2 admin-action packets, got %d", len(packets))
	}
	want := []adminActionWire{
		{Action: AdminActionApprove, TargetDemuxId: 3},
		{Action: AdminActionRemove, TargetDemuxId: 4},
	}
	for i, p := range packets {
		decoded, err := mrp.DecodePacket(mrp.EncodePacket(p))
		if err != nil {
			t.Fatalf("decode packet %d: %v", i, err)
		}
		var got adminActionWire
		if err := json.Unmarshal(decoded.Content, &got); err != nil {
			t.Fatalf("decode admin action %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("admin action %d: got %+v, want %+v", i, got, want[i])
		}
	}
}

func TestRaiseHandSeqnumIsMonotonic(t *testing.T) {
	var contents [][]byte
	c := New(1, testLogger(), Hooks{
		SendToSfu: func(p mrp.Packet) { contents = append(contents, p.Content) },
	}, time.Second)

	c.RaiseHand(true)
	c.RaiseHand(false)

	if len(contents) != 2 {
		t.Fatalf("expected 2 raise-hand packets, got %d", len(contents))
	}
	var seqs []uint64
	for _, b := range contents {
		var w raiseHandWire
		if err := json.Unmarshal(b, &w); err != nil {
			t.Fatalf("decode raise-hand payload: %v", err)
		}
		seqs = append(seqs, w.Seqnum)
	}
	if seqs[1] <= seqs[0] {
		t.Fatalf("expected increasing raise-hand seqnums, got %v", seqs)
	}
}

func TestReceiveFromSfuAcksReceivedPacket(t *testing.T) {
	var acks []uint32
	c := New(1, testLogger(), Hooks{
		SendToSfu: func(p mrp.Packet) { acks = append(acks, p.AckNum) },
	}, time.Second)

	c.ReceiveFromSfu(mrp.Packet{SeqNum: 0, NumPackets: 1, Content: []byte("peek-update")})

	if len(acks) != 1 || acks[0] != 0 {
		t.Fatalf("expected one ack for seqnum 0, got %v", acks)
	}
}
