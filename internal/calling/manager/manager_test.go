package manager

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

type fakeObserver struct {
	startedOutgoing []calling.CallId
	startedIncoming []calling.CallId
	ended           map[calling.CallId]calling.EndedReason
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{ended: make(map[calling.CallId]calling.EndedReason)}
}

func (f *fakeObserver) StartOutgoingCall(callID calling.CallId, remoteUserID calling.UserId) {
	f.startedOutgoing = append(f.startedOutgoing, callID)
}
func (f *fakeObserver) StartIncomingCall(callID calling.CallId, remoteUserID calling.UserId, isVideo bool) {
	f.startedIncoming = append(f.startedIncoming, callID)
}
func (f *fakeObserver) OnCallState(callID calling.CallId, state calling.DirectCallState) {}
func (f *fakeObserver) OnCallEnded(callID calling.CallId, reason calling.EndedReason, ageSec int64, history calling.CallHistoryRecord) {
	f.ended[callID] = reason
}

type fakeTransport struct {
	busySent    []calling.CallId
	hangupSent  []calling.CallId
	broadcasts  []calling.DeviceId
}

func (f *fakeTransport) SendOffer(calling.CallId, calling.UserId, *calling.DeviceId, calling.MediaKind, []byte) {}
func (f *fakeTransport) SendAnswer(calling.CallId, calling.UserId, []byte)                                     {}
func (f *fakeTransport) SendIceCandidates(calling.CallId, calling.UserId, [][]byte)                            {}
func (f *fakeTransport) SendHangup(callID calling.CallId, remoteUserID calling.UserId, typ calling.EndedReason, chosenDevice *calling.DeviceId, broadcast bool) {
	f.hangupSent = append(f.hangupSent, callID)
	if chosenDevice != nil {
		f.broadcasts = append(f.broadcasts, *chosenDevice)
	}
}
func (f *fakeTransport) SendBusy(callID calling.CallId, remoteUserID calling.UserId) {
	f.busySent = append(f.busySent, callID)
}

func newManager(obs *fakeObserver, tr *fakeTransport) *Manager {
	return New(context.Background(), testLogger(), obs, tr, nil, Config{
		OfferExpiry:          60 * time.Second,
		ReconnectTimeout:     30 * time.Second,
		GroupMediaKeyOverlap: time.Second,
		RequestRegistryTTL:   time.Minute,
	})
}

func TestGlareWinner(t *testing.T) {
	obs := newFakeObserver()
	tr := &fakeTransport{}
	m := newManager(obs, tr)

	m.Place(100, "bob", calling.MediaKindAudio, 1)
	m.ReceivedOffer(50, "bob", calling.MediaKindAudio, 1, nil, 0)

	call, ok := m.CurrentCall("bob")
	if !ok || call.ID != 100 {
		t.Fatalf("expected outgoing call 100 to remain current, got %+v", call)
	}
	if len(obs.startedIncoming) != 0 {
		t.Fatalf("winner must not surface the losing incoming offer, got %v", obs.startedIncoming)
	}
	if len(tr.hangupSent) != 0 {
		t.Fatalf("winner must not send hangup toward the loser's callId, got %v", tr.hangupSent)
	}
}

func TestGlareLoser(t *testing.T) {
	obs := newFakeObserver()
	tr := &fakeTransport{}
	m := newManager(obs, tr)

	m.Place(50, "bob", calling.MediaKindAudio, 1)
	m.ReceivedOffer(100, "bob", calling.MediaKindAudio, 1, nil, 0)

	if obs.ended[50] != calling.EndedGlare {
		t.Fatalf("expected call 50 to end with Glare, got %v", obs.ended[50])
	}
	if len(obs.startedIncoming) != 1 || obs.startedIncoming[0] != 100 {
		t.Fatalf("expected fresh incoming call 100, got %v", obs.startedIncoming)
	}
	call, ok := m.CurrentCall("bob")
	if !ok || call.ID != 100 {
		t.Fatalf("expected current call to be 100, got %+v", call)
	}
}

func TestGlareEqual(t *testing.T) {
	obs := newFakeObserver()
	tr := &fakeTransport{}
	m := newManager(obs, tr)

	m.Place(77, "bob", calling.MediaKindAudio, 1)
	m.ReceivedOffer(77, "bob", calling.MediaKindAudio, 1, nil, 0)

	if obs.ended[77] != calling.EndedGlareFailure {
		t.Fatalf("expected GlareFailure, got %v", obs.ended[77])
	}
	if len(tr.busySent) != 1 {
		t.Fatalf("expected exactly one Busy sent, got %d", len(tr.busySent))
	}
}

func TestMultiRingAcceptBroadcast(t *testing.T) {
	obs := newFakeObserver()
	tr := &fakeTransport{}
	m := newManager(obs, tr)

	m.PlaceMultiRing(1, "bob", calling.MediaKindAudio, 9, []calling.DeviceId{1, 2, 3})
	if err := m.Proceed(1, nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	m.active.call.RemoteAccept()

	m.ReceivedAcceptedOnDevice(1, 1)

	if len(tr.broadcasts) != 1 || tr.broadcasts[0] != 1 {
		t.Fatalf("expected exactly one hangup/accepted{deviceId=1} broadcast, got %v", tr.broadcasts)
	}
	for _, d := range m.active.devices {
		if d.deviceID != 1 && !d.ended {
			t.Errorf("expected device %d marked ended", d.deviceID)
		}
	}
}

func TestOfferFromDifferentUserWhileActiveIsBusy(t *testing.T) {
	obs := newFakeObserver()
	tr := &fakeTransport{}
	m := newManager(obs, tr)

	m.Place(1, "bob", calling.MediaKindAudio, 1)
	if err := m.Proceed(1, nil); err != nil {
		t.Fatalf("unexpected error from Proceed: %v", err)
	}
	call, _ := m.CurrentCall("bob")
	call.RemoteAccept()
	call.IceConnected() // now Connected

	m.ReceivedOffer(2, "carol", calling.MediaKindAudio, 1, nil, 0)

	if len(obs.startedIncoming) != 0 {
		t.Fatalf("a call already active with a different user must not start a new incoming call, got %v", obs.startedIncoming)
	}
	if len(tr.busySent) != 1 || tr.busySent[0] != 2 {
		t.Fatalf("expected Busy sent for callId 2, got %v", tr.busySent)
	}
	if obs.ended[2] != calling.EndedReceivedOfferWhileActive {
		t.Fatalf("expected callId 2 to end with ReceivedOfferWhileActive, got %v", obs.ended[2])
	}
	// The active call with bob must be unaffected.
	if c, ok := m.CurrentCall("bob"); !ok || c.State() != calling.StateConnected {
		t.Fatalf("expected bob's call to remain Connected, got %+v", c)
	}
}
