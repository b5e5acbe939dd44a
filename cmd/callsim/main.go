// Command callsim is a two-party calling simulation: it wires two
// in-process Call Managers (alice and bob) together over a loopback
// Transport, drives a normal call end to end, and serves a small status
// API while it runs. It exists to exercise C1-C9 together the way an
// embedder's test harness would, without a real signaling server.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	typesv1 "github.com/sebas/ringrtc/api/types/v1"
	"github.com/sebas/ringrtc/internal/banner"
	"github.com/sebas/ringrtc/internal/calling"
	"github.com/sebas/ringrtc/internal/calling/manager"
	"github.com/sebas/ringrtc/internal/calling/platform"
	"github.com/sebas/ringrtc/internal/config"
	"github.com/sebas/ringrtc/internal/events"
	"github.com/sebas/ringrtc/internal/logger"
	"github.com/sebas/ringrtc/internal/wire"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	log := logger.New(os.Stdout, "callsim")

	startTime := time.Now()
	var eventCount int64
	var eventMu sync.Mutex
	sink := events.SinkFunc(func(e events.Event) {
		eventMu.Lock()
		eventCount++
		eventMu.Unlock()
		log.Info("event", "subject", e.Subject(), "type", e.Type())
	})

	loop := newLoopbackNetwork()

	alice := newParty(context.Background(), log.With("party", "alice"), "alice", loop, sink, cfg)
	bob := newParty(context.Background(), log.With("party", "bob"), "bob", loop, sink, cfg)
	loop.register("alice", alice.manager)
	loop.register("bob", bob.manager)

	banner.Print("RingRTC Call Simulator", []banner.ConfigLine{
		{Label: "Offer expiry", Value: cfg.OfferExpiry.String()},
		{Label: "Reconnect timeout", Value: cfg.ReconnectTimeout.String()},
		{Label: "Media key overlap", Value: cfg.MediaKeyOverlap.String()},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, typesv1.HealthResponse{Status: "ok", Uptime: int64(time.Since(startTime).Seconds())})
	})
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		eventMu.Lock()
		n := eventCount
		eventMu.Unlock()
		active := 0
		if _, ok := alice.manager.CurrentCall("bob"); ok {
			active = 1
		}
		writeJSON(w, typesv1.StatsResponse{
			ActiveDirectCalls:  active,
			TotalEventsEmitted: int(n),
		})
	})
	httpServer := &http.Server{Addr: ":8090", Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info("status API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status API failed", "err", err)
		}
	}()

	go runScenario(alice, bob, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// party bundles one side's Call Manager with the loopback observer it
// reports to.
type party struct {
	name    calling.UserId
	obs     *loopbackObserver
	manager *manager.Manager
}

func newParty(ctx context.Context, log *slog.Logger, name calling.UserId, loop *loopbackNetwork, sink events.Sink, cfg *config.Config) *party {
	obs := &loopbackObserver{name: name}
	transport := &loopbackTransport{self: name, loop: loop}
	m := manager.New(ctx, log, obs, transport, sink, manager.Config{
		OfferExpiry:          cfg.OfferExpiry,
		ReconnectTimeout:     cfg.ReconnectTimeout,
		GroupMediaKeyOverlap: cfg.MediaKeyOverlap,
		RequestRegistryTTL:   cfg.RequestRegistryTTL,
	})
	obs.mgr = m
	return &party{name: name, obs: obs, manager: m}
}

// runScenario drives the §8 "normal call" scenario: alice calls bob, bob
// accepts, both sides see Connected, then alice hangs up.
func runScenario(alice, bob *party, log *slog.Logger) {
	time.Sleep(200 * time.Millisecond)

	const callID calling.CallId = 42
	log.Info("alice places call to bob")
	alice.manager.Place(callID, "bob", calling.MediaKindAudio, 1)
	if err := alice.manager.Proceed(callID, nil); err != nil {
		log.Error("alice: proceed failed", "err", err)
	}

	time.Sleep(200 * time.Millisecond)
	if call, ok := bob.manager.CurrentCall("alice"); ok {
		log.Info("bob accepting incoming call", "callId", call.ID)
		if err := bob.manager.Proceed(call.ID, nil); err != nil {
			log.Error("bob: proceed failed", "err", err)
		}
		bob.manager.Accept(call.ID)
		call.IceConnected()
	}

	time.Sleep(200 * time.Millisecond)
	if call, ok := alice.manager.CurrentCall("bob"); ok {
		call.RemoteAccept()
		call.IceConnected()
	}

	time.Sleep(500 * time.Millisecond)
	log.Info("alice hanging up")
	alice.manager.Hangup(callID)
}

// loopbackObserver fulfils platform.Observer with no-op callbacks and, for
// the HTTP bridge, echoes back a canned success asynchronously — enough to
// exercise the request-registry round trip (§4.7) without a real SFU or
// call-link server behind it.
type loopbackObserver struct {
	name calling.UserId
	mgr  *manager.Manager
}

func (o *loopbackObserver) StartOutgoingCall(callID calling.CallId, remoteUserID calling.UserId) {}
func (o *loopbackObserver) StartIncomingCall(callID calling.CallId, remoteUserID calling.UserId, isVideo bool) {
}
func (o *loopbackObserver) OnCallState(callID calling.CallId, state calling.DirectCallState) {}
func (o *loopbackObserver) OnCallEnded(callID calling.CallId, reason calling.EndedReason, ageSec int64, history calling.CallHistoryRecord) {
}
func (o *loopbackObserver) SendSignaling(remoteUserID calling.UserId, destinationDeviceID *calling.DeviceId, msg []byte, broadcast bool) (attemptID uint64) {
	return 0
}
func (o *loopbackObserver) SendHttpRequest(requestID uint64, url string, method platform.HttpMethod, headers map[string]string, body []byte) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		if o.mgr != nil {
			o.mgr.ReceivedHttpResponse(requestID, http.StatusOK, []byte("{}"))
		}
	}()
}
func (o *loopbackObserver) SendCallMessage(recipientUserID calling.UserId, body []byte, urgency platform.Urgency) {
}
func (o *loopbackObserver) SendCallMessageToGroup(groupID string, body []byte, urgency platform.Urgency, overrideRecipients []calling.UserId) {
}
func (o *loopbackObserver) OnNetworkRouteChanged(callID calling.CallId, description string) {}
func (o *loopbackObserver) OnAudioLevels(callID calling.CallId, capturedLevel, receivedLevel uint16) {
}
func (o *loopbackObserver) OnGroupCallRingUpdate(groupID string, ringID int64, sender calling.UserId, update platform.GroupCallRingUpdate) {
}

// loopbackNetwork delivers one party's Transport calls to the other
// party's Manager, standing in for a real signaling server. Each hop goes
// through wire.Encode/wire.Decode (C1), the same as a real embedder would
// serialize a CallingMessage for its signaling channel.
type loopbackNetwork struct {
	mu       sync.Mutex
	managers map[calling.UserId]*manager.Manager
}

func newLoopbackNetwork() *loopbackNetwork {
	return &loopbackNetwork{managers: make(map[calling.UserId]*manager.Manager)}
}

func (n *loopbackNetwork) register(name calling.UserId, m *manager.Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.managers[name] = m
}

// deliver decodes encoded (a wire.Encode output) and dispatches it to the
// correct Manager method on the receiving side, exactly as a production
// signaling bridge would after wire.Decode.
func (n *loopbackNetwork) deliver(to, from calling.UserId, encoded []byte) {
	n.mu.Lock()
	m := n.managers[to]
	n.mu.Unlock()
	if m == nil {
		return
	}
	msg, err := wire.Decode(encoded)
	if err != nil {
		return
	}
	switch {
	case msg.Offer != nil:
		m.ReceivedOffer(msg.Offer.CallId, from, mediaKindForOfferType(msg.Offer.Type), 1, msg.Offer.Opaque, 0)
	case msg.Answer != nil:
		m.ReceivedAnswer(msg.Answer.CallId, from, msg.Answer.Opaque)
	case msg.IceCandidates != nil:
		m.ReceivedIceCandidates(msg.IceCandidates.CallId, from, msg.IceCandidates.Candidates)
	case msg.Hangup != nil:
		m.ReceivedHangup(msg.Hangup.CallId, from, endedReasonForHangupType(msg.Hangup.Type))
	case msg.Busy != nil:
		m.ReceivedBusy(msg.Busy.CallId, from)
	}
}

func mediaKindForOfferType(t wire.OfferType) calling.MediaKind {
	if t == wire.OfferVideo {
		return calling.MediaKindAudioVideo
	}
	return calling.MediaKindAudio
}

// hangupTypeForReason maps the Call Manager's locally observed EndedReason
// to the wire type it announces to the remote, per §7.
func hangupTypeForReason(reason calling.EndedReason) wire.HangupType {
	switch reason {
	case calling.EndedRemoteHangupAccepted:
		return wire.HangupAccepted
	case calling.EndedRemoteHangupDeclined:
		return wire.HangupDeclined
	case calling.EndedRemoteHangupBusy:
		return wire.HangupBusy
	case calling.EndedRemoteHangupNeedPermission:
		return wire.HangupNeedPermission
	default:
		return wire.HangupNormal
	}
}

// endedReasonForHangupType is hangupTypeForReason's inverse for the
// receiving side, per §4.3's state table ("hangup (remote) -> map
// type->endedReason").
func endedReasonForHangupType(t wire.HangupType) calling.EndedReason {
	switch t {
	case wire.HangupAccepted:
		return calling.EndedRemoteHangupAccepted
	case wire.HangupDeclined:
		return calling.EndedRemoteHangupDeclined
	case wire.HangupBusy:
		return calling.EndedRemoteHangupBusy
	case wire.HangupNeedPermission:
		return calling.EndedRemoteHangupNeedPermission
	default:
		return calling.EndedRemoteHangup
	}
}

// loopbackTransport implements manager.Transport by encoding each send
// through the C1 wire codec and routing it to the named remote user's
// Manager on the other side of the loop.
type loopbackTransport struct {
	self calling.UserId
	loop *loopbackNetwork
}

func (t *loopbackTransport) SendOffer(callID calling.CallId, remoteUserID calling.UserId, destinationDeviceID *calling.DeviceId, mediaKind calling.MediaKind, opaque []byte) {
	offerType := wire.OfferAudio
	if mediaKind == calling.MediaKindAudioVideo {
		offerType = wire.OfferVideo
	}
	encoded := wire.Encode(wire.Message{
		Offer:               &wire.Offer{CallId: callID, Type: offerType, Opaque: opaque},
		DestinationDeviceId: destinationDeviceID,
	})
	t.loop.deliver(remoteUserID, t.self, encoded)
}

func (t *loopbackTransport) SendAnswer(callID calling.CallId, remoteUserID calling.UserId, opaque []byte) {
	encoded := wire.Encode(wire.Message{Answer: &wire.Answer{CallId: callID, Opaque: opaque}})
	t.loop.deliver(remoteUserID, t.self, encoded)
}

func (t *loopbackTransport) SendIceCandidates(callID calling.CallId, remoteUserID calling.UserId, candidates [][]byte) {
	encoded := wire.Encode(wire.Message{IceCandidates: &wire.IceCandidates{CallId: callID, Candidates: candidates}})
	t.loop.deliver(remoteUserID, t.self, encoded)
}

func (t *loopbackTransport) SendHangup(callID calling.CallId, remoteUserID calling.UserId, typ calling.EndedReason, chosenDevice *calling.DeviceId, broadcast bool) {
	deviceID := calling.DeviceId(0)
	if chosenDevice != nil {
		deviceID = *chosenDevice
	}
	encoded := wire.Encode(wire.Message{Hangup: &wire.Hangup{CallId: callID, Type: hangupTypeForReason(typ), DeviceId: deviceID}})
	t.loop.deliver(remoteUserID, t.self, encoded)
}

func (t *loopbackTransport) SendBusy(callID calling.CallId, remoteUserID calling.UserId) {
	encoded := wire.Encode(wire.Message{Busy: &wire.Busy{CallId: callID}})
	t.loop.deliver(remoteUserID, t.self, encoded)
}
