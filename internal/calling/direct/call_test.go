package direct

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebas/ringrtc/internal/calling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutgoingNormalScenario(t *testing.T) {
	var states []calling.DirectCallState
	var endedReason calling.EndedReason
	ended := false
	hooks := Hooks{
		OnState: func(s calling.DirectCallState) { states = append(states, s) },
		OnEnded: func(r calling.EndedReason, age int64) { ended = true; endedReason = r },
	}
	c := New(1, calling.CallKindOutgoing, calling.MediaKindAudio, "bob", 1, testLogger(), hooks, 30*time.Second, 60*time.Second)

	c.Place()
	if err := c.Proceed(nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	c.ReceiveAnswer(nil)
	c.IceConnected() // still ConnectingBeforeAccepted: remoteRinging surfaced by caller
	c.RemoteAccept()
	c.IceConnected() // now Connected
	if c.State() != calling.StateConnected {
		t.Fatalf("expected Connected, got %v", c.State())
	}
	c.HangupLocal()

	if !ended || endedReason != calling.EndedLocalHangup {
		t.Fatalf("expected LocalHangup end, got ended=%v reason=%v", ended, endedReason)
	}
	if c.State() != calling.StateTerminated {
		t.Fatalf("expected Terminated, got %v", c.State())
	}
}

func TestIncomingQuickHangupBeforeProceed(t *testing.T) {
	ended := false
	var reason calling.EndedReason
	hooks := Hooks{
		OnEnded: func(r calling.EndedReason, age int64) { ended = true; reason = r },
	}
	c := New(1234, calling.CallKindIncoming, calling.MediaKindAudio, "alice", 1, testLogger(), hooks, 30*time.Second, 60*time.Second)

	c.ReceiveOffer(nil, 5)
	if c.State() != calling.StateWaitingToProceed {
		t.Fatalf("expected WaitingToProceed, got %v", c.State())
	}
	c.HangupRemote(calling.EndedRemoteHangup)

	if !ended || reason != calling.EndedRemoteHangup {
		t.Fatalf("expected RemoteHangup end, got ended=%v reason=%v", ended, reason)
	}
}

func TestOfferExpiryEndsWithoutStartIncoming(t *testing.T) {
	startIncomingCalled := false
	var reason calling.EndedReason
	var age int64
	hooks := Hooks{
		OnEnded: func(r calling.EndedReason, a int64) { reason = r; age = a },
	}
	c := New(1, calling.CallKindIncoming, calling.MediaKindAudio, "bob", 1, testLogger(), hooks, 30*time.Second, 60*time.Second)

	expired := c.ReceiveOffer(nil, 120)
	if !expired {
		t.Fatal("expected offer to be treated as expired")
	}
	if startIncomingCalled {
		t.Fatal("must not surface start-incoming for an expired offer")
	}
	if reason != calling.EndedReceivedOfferExpired || age != 120 {
		t.Fatalf("got reason=%v age=%d", reason, age)
	}
}

func TestIceBufferedAndDrainedInArrivalOrder(t *testing.T) {
	c := New(1, calling.CallKindIncoming, calling.MediaKindAudio, "bob", 1, testLogger(), Hooks{}, 30*time.Second, 60*time.Second)
	c.BufferIceCandidate([]byte("a"))
	c.BufferIceCandidate([]byte("b"))
	c.BufferIceCandidate([]byte("c"))

	drained := c.DrainBufferedCandidates()
	if len(drained) != 3 || string(drained[0]) != "a" || string(drained[2]) != "c" {
		t.Fatalf("unexpected drain order: %v", drained)
	}
	if len(c.DrainBufferedCandidates()) != 0 {
		t.Fatal("expected buffer to be empty after drain")
	}
}

func TestReconnectTimeoutEndsWithConnectionFailure(t *testing.T) {
	var reason calling.EndedReason
	done := make(chan struct{})
	hooks := Hooks{
		OnEnded: func(r calling.EndedReason, age int64) { reason = r; close(done) },
	}
	c := New(1, calling.CallKindOutgoing, calling.MediaKindAudio, "bob", 1, testLogger(), hooks, 10*time.Millisecond, 60*time.Second)
	c.Place()
	if err := c.Proceed(nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	c.RemoteAccept()
	c.IceConnected()
	if c.State() != calling.StateConnected {
		t.Fatalf("expected Connected, got %v", c.State())
	}

	c.IceDisconnected(context.Background(), func() { c.ConnectionFailed() })
	if c.State() != calling.StateReconnecting {
		t.Fatalf("expected Reconnecting, got %v", c.State())
	}

	<-done
	if reason != calling.EndedConnectionFailure {
		t.Fatalf("got reason %v, want ConnectionFailure", reason)
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	endCount := 0
	hooks := Hooks{OnEnded: func(r calling.EndedReason, age int64) { endCount++ }}
	c := New(1, calling.CallKindOutgoing, calling.MediaKindAudio, "bob", 1, testLogger(), hooks, 30*time.Second, 60*time.Second)
	c.Place()
	c.HangupLocal()
	c.HangupLocal()
	if endCount != 1 {
		t.Fatalf("expected exactly one end event, got %d", endCount)
	}
}

func TestProceedOutgoingSendsOfferThroughHooks(t *testing.T) {
	var offerOpaque []byte
	hooks := Hooks{
		SendOffer: func(opaque []byte, mk calling.MediaKind) { offerOpaque = opaque },
	}
	c := New(1, calling.CallKindOutgoing, calling.MediaKindAudio, "bob", 1, testLogger(), hooks, 30*time.Second, 60*time.Second)
	c.Place()
	if err := c.Proceed(nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	if offerOpaque == nil {
		t.Fatal("expected SendOffer to be invoked with a non-nil SDP opaque")
	}
}

func TestAddIceCandidateBuffersBeforeProceedThenRoutesToEngine(t *testing.T) {
	c := New(1, calling.CallKindIncoming, calling.MediaKindAudio, "bob", 1, testLogger(), Hooks{}, 30*time.Second, 60*time.Second)
	c.AddIceCandidate([]byte("candidate-a"))
	if got := c.DrainBufferedCandidates(); len(got) != 1 || string(got[0]) != "candidate-a" {
		t.Fatalf("expected candidate-a to be buffered before Proceed, got %q", got)
	}
	// Re-buffer since the drain above emptied it for inspection.
	c.BufferIceCandidate([]byte("candidate-b"))
	c.ReceiveOffer(nil, 0)
	if err := c.Proceed(nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	// Once the engine exists, further candidates route straight through
	// instead of buffering.
	c.AddIceCandidate([]byte("candidate-c"))
}
