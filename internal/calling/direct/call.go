// Package direct implements the direct-call state machine (C3): one
// instance per active 1:1 call, driven by platform commands and signaling
// events delivered by the Call Manager (C4). All mutation is expected to
// happen on the single worker-runtime goroutine (C7); Call itself holds no
// internal mutex for state, only the small idempotency guard (the
// terminated flag checked by endWithAge) that keeps ending safe if invoked
// twice from different code paths in the same handler.
package direct

import (
	"context"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sebas/ringrtc/internal/calling"
	"github.com/sebas/ringrtc/internal/calling/media"
)

// MaxBufferedCandidates bounds the per-call ICE buffer (§4.3).
const MaxBufferedCandidates = media.MaxBufferedCandidates

// Hooks is how a Call reports its lifecycle and its media engine's signaling
// output back to its owner (the Call Manager), which in turn routes
// state/end events to the embedder Observer and ships offer/answer/ICE over
// the Transport. Call owns the peer connection's lifetime (§5: "the peer
// connection is owned by the call that created it") but has no view of
// multi-device fan-out or glare bookkeeping, which belong to C4.
type Hooks struct {
	OnState    func(state calling.DirectCallState)
	OnEnded    func(reason calling.EndedReason, ageSec int64)
	SendOffer  func(opaque []byte, mediaKind calling.MediaKind)
	SendAnswer func(opaque []byte)
	SendIce    func(candidates [][]byte)
}

// connectionObserver adapts the media engine's ConnectionObserver callbacks
// to the owning Call's own lifecycle methods.
type connectionObserver struct {
	call *Call
}

func (o *connectionObserver) OnIceCandidate(opaque []byte) {
	if o.call.hooks.SendIce != nil {
		o.call.hooks.SendIce([][]byte{opaque})
	}
}
func (o *connectionObserver) OnIceConnected() { o.call.IceConnected() }
func (o *connectionObserver) OnIceDisconnected() {
	o.call.IceDisconnected(context.Background(), o.call.ConnectionFailed)
}
func (o *connectionObserver) OnIceFailed() { o.call.ConnectionFailed() }
func (o *connectionObserver) OnDataChannel(dc *webrtc.DataChannel) {
	// Direct calls exchange media only; they never open a data channel of
	// their own (that is a group-call/SFU concern, §4.5).
}

// Call is one instance of the §4.3 state machine.
type Call struct {
	ID            calling.CallId
	Kind          calling.CallKind
	MediaKind     calling.MediaKind
	RemoteUserID  calling.UserId
	LocalDeviceID calling.DeviceId

	log   *slog.Logger
	hooks Hooks

	state       calling.DirectCallState
	offerSent   bool
	answerSent  bool
	pendingICE  [][]byte
	pendingOfferOpaque []byte // the remote offer's SDP, held until Proceed builds the answer
	terminated  bool
	reconnectCancel context.CancelFunc

	engine *media.Engine

	reconnectTimeout time.Duration
	offerExpiry      time.Duration
}

// New builds a Call in NotYetStarted, ready for Place or ReceiveOffer.
func New(id calling.CallId, kind calling.CallKind, mediaKind calling.MediaKind, remoteUserID calling.UserId, localDeviceID calling.DeviceId, log *slog.Logger, hooks Hooks, reconnectTimeout, offerExpiry time.Duration) *Call {
	return &Call{
		ID:               id,
		Kind:             kind,
		MediaKind:        mediaKind,
		RemoteUserID:     remoteUserID,
		LocalDeviceID:    localDeviceID,
		log:              log.With("callId", id, "remoteUserId", remoteUserID),
		hooks:            hooks,
		state:            calling.StateNotYetStarted,
		reconnectTimeout: reconnectTimeout,
		offerExpiry:      offerExpiry,
	}
}

// State returns the call's current state.
func (c *Call) State() calling.DirectCallState { return c.state }

func (c *Call) transition(next calling.DirectCallState) bool {
	if !c.state.CanTransitionTo(next) {
		c.log.Error("direct: illegal state transition attempted", "from", c.state, "to", next)
		return false
	}
	c.state = next
	if c.hooks.OnState != nil {
		c.hooks.OnState(next)
	}
	return true
}

// Place starts an outgoing call: NotYetStarted -> WaitingToProceed.
func (c *Call) Place() {
	c.transition(calling.StateWaitingToProceed)
}

// ReceiveOffer starts an incoming call. opaque is the remote offer's SDP,
// held until Proceed builds the peer connection and the answer.
// messageAgeSec is the reported signaling delivery delay; if it meets or
// exceeds offerExpiry the call is immediately ended with
// ReceivedOfferExpired and never surfaced as a start-incoming event, per
// §4.3/§8.
func (c *Call) ReceiveOffer(opaque []byte, messageAgeSec int64) (expired bool) {
	if time.Duration(messageAgeSec)*time.Second >= c.offerExpiry {
		c.state = calling.StateTerminating
		c.endWithAge(calling.EndedReceivedOfferExpired, messageAgeSec)
		c.state = calling.StateTerminated
		return true
	}
	c.pendingOfferOpaque = opaque
	c.transition(calling.StateWaitingToProceed)
	return false
}

// Proceed constructs the peer connection and, for an outgoing call, creates
// and hands the offer to Hooks.SendOffer; for an incoming call it applies
// the held remote offer and hands the answer to Hooks.SendAnswer. Buffered
// remote ICE candidates are flushed to the new engine immediately
// afterward, per §4.3.
func (c *Call) Proceed(iceServers []webrtc.ICEServer) error {
	if !c.transition(calling.StateConnectingBeforeAccepted) {
		return nil
	}

	engine, err := media.NewEngine(c.log, &connectionObserver{call: c}, iceServers)
	if err != nil {
		return err
	}
	c.engine = engine

	buffered := c.pendingICE
	c.pendingICE = nil
	for _, cand := range buffered {
		if aerr := engine.AddIceCandidate(cand); aerr != nil {
			c.log.Warn("direct: failed to flush buffered ICE candidate", "err", aerr)
		}
	}

	if c.Kind == calling.CallKindOutgoing {
		opaque, operr := engine.CreateOffer(context.Background())
		if operr != nil {
			return operr
		}
		c.offerSent = true
		if c.hooks.SendOffer != nil {
			c.hooks.SendOffer(opaque, c.MediaKind)
		}
		return nil
	}

	opaque, operr := engine.CreateAnswer(context.Background(), c.pendingOfferOpaque)
	if operr != nil {
		return operr
	}
	c.answerSent = true
	if c.hooks.SendAnswer != nil {
		c.hooks.SendAnswer(opaque)
	}
	return nil
}

// ReceiveAnswer applies a remote answer to an outgoing call awaiting one.
func (c *Call) ReceiveAnswer(opaque []byte) {
	if c.state != calling.StateConnectingBeforeAccepted {
		c.log.Warn("direct: answer received outside ConnectingBeforeAccepted", "state", c.state)
		return
	}
	if c.engine == nil {
		return
	}
	if err := c.engine.ApplyAnswer(opaque); err != nil {
		c.log.Warn("direct: failed to apply answer", "err", err)
	}
	// State unchanged; answer application is a side effect only (§4.3 row:
	// "ConnectingBeforeAccepted | answer (outgoing) | ConnectingBeforeAccepted").
}

// IceConnected signals the transport reaching a connected state for the
// first time.
func (c *Call) IceConnected() {
	switch c.state {
	case calling.StateConnectingBeforeAccepted:
		// ringing is surfaced by the caller (remoteRinging/localRinging);
		// state itself does not change here per §4.3.
	case calling.StateConnectingAfterAccepted:
		c.transition(calling.StateConnected)
	case calling.StateReconnecting:
		c.cancelReconnectDeadline()
		c.transition(calling.StateConnected)
	}
}

// IceDisconnected starts the reconnect deadline if the call was Connected.
func (c *Call) IceDisconnected(ctx context.Context, onTimeout func()) {
	if c.state != calling.StateConnected {
		return
	}
	if !c.transition(calling.StateReconnecting) {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	c.reconnectCancel = cancel
	go func() {
		select {
		case <-rctx.Done():
			return
		case <-time.After(c.reconnectTimeout):
			onTimeout()
		}
	}()
}

func (c *Call) cancelReconnectDeadline() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

// Accept moves an incoming call to ConnectingAfterAccepted.
func (c *Call) Accept() {
	if c.state != calling.StateConnectingBeforeAccepted {
		c.log.Warn("direct: accept outside ConnectingBeforeAccepted", "state", c.state)
		return
	}
	c.transition(calling.StateConnectingAfterAccepted)
}

// RemoteAccept moves an outgoing call to ConnectingAfterAccepted once a
// remote device has accepted (multi-ring).
func (c *Call) RemoteAccept() {
	if c.state != calling.StateConnectingBeforeAccepted {
		return
	}
	c.transition(calling.StateConnectingAfterAccepted)
}

// AddIceCandidate routes a remote ICE candidate to the media engine if the
// peer connection already exists, or buffers it for Proceed to flush
// otherwise, per §4.3's PendingSignaling invariant.
func (c *Call) AddIceCandidate(candidate []byte) {
	if c.engine != nil {
		if err := c.engine.AddIceCandidate(candidate); err != nil {
			c.log.Warn("direct: failed to add ICE candidate", "err", err)
		}
		return
	}
	c.BufferIceCandidate(candidate)
}

// BufferIceCandidate enqueues an ICE candidate that arrived before the peer
// connection exists, bounded per §4.3.
func (c *Call) BufferIceCandidate(candidate []byte) {
	if len(c.pendingICE) >= MaxBufferedCandidates {
		c.log.Warn("direct: ICE candidate buffer full, dropping candidate")
		return
	}
	c.pendingICE = append(c.pendingICE, candidate)
}

// DrainBufferedCandidates returns and clears the buffer, for the caller to
// hand to the media engine once the peer connection exists.
func (c *Call) DrainBufferedCandidates() [][]byte {
	buf := c.pendingICE
	c.pendingICE = nil
	return buf
}

// HangupLocal ends the call by local request.
func (c *Call) HangupLocal() {
	c.endAs(calling.EndedLocalHangup)
}

// HangupRemote ends the call because the remote side sent a hangup of the
// given wire type, already mapped to an EndedReason by the caller.
func (c *Call) HangupRemote(reason calling.EndedReason) {
	c.endAs(reason)
}

// Fail ends the call due to an internal invariant violation, per §7:
// "always logged; call is terminated".
func (c *Call) Fail(err error) {
	c.log.Error("direct: internal failure", "err", err)
	c.endAs(calling.EndedInternalFailure)
}

// ConnectionFailed ends the call after the reconnect deadline elapses.
func (c *Call) ConnectionFailed() {
	c.endAs(calling.EndedConnectionFailure)
}

func (c *Call) endAs(reason calling.EndedReason) {
	c.endWithAge(reason, 0)
}

func (c *Call) endWithAge(reason calling.EndedReason, ageSec int64) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.cancelReconnectDeadline()
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.log.Warn("direct: failed to close media engine", "err", err)
		}
	}

	if c.state != calling.StateTerminating && c.state != calling.StateTerminated {
		if c.state.CanTransitionTo(calling.StateTerminating) {
			c.state = calling.StateTerminating
			if c.hooks.OnState != nil {
				c.hooks.OnState(c.state)
			}
		}
	}
	c.state = calling.StateTerminated
	if c.hooks.OnState != nil {
		c.hooks.OnState(c.state)
	}
	if c.hooks.OnEnded != nil {
		c.hooks.OnEnded(reason, ageSec)
	}
}

// IsTerminated reports whether the call has already been ended. Exposed so
// C4 can drop commands targeting a CallId that no longer matches the
// current call, per §4.4.
func (c *Call) IsTerminated() bool { return c.terminated }
