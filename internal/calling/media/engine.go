// Package media implements the media engine façade (C9): a thin wrapper
// around a pion/webrtc PeerConnection that the direct-call and group-call
// clients drive without touching ICE/SDP details directly. It owns the
// peer connection's lifetime exclusively, per §9's "arena-owned handles"
// redesign note, and buffers ICE candidates that arrive before a remote
// description is set.
package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ConnectionObserver receives façade lifecycle events. Implementations are
// dispatched back through the owning call's actor, never called
// concurrently with the actor's own handlers.
type ConnectionObserver interface {
	OnIceCandidate(opaque []byte)
	OnIceConnected()
	OnIceDisconnected()
	OnIceFailed()
	OnDataChannel(dc *webrtc.DataChannel)
}

// MaxBufferedCandidates bounds the per-call ICE buffer (§4.3: "bounded in
// size").
const MaxBufferedCandidates = 32

// Engine owns one PeerConnection and the ICE-candidate buffer that feeds
// it, per the §4.3 PendingSignaling invariant: buffered exactly once until
// the remote description is set, flushed by setRemote once it is, dropped
// by Close.
type Engine struct {
	log *slog.Logger
	obs ConnectionObserver

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	remoteSet     bool
	pending       [][]byte
	closed        bool
}

// NewEngine constructs the underlying PeerConnection and wires its
// callbacks back to obs. iceServers is the embedder-provided ICE server
// list from proceed(...).
func NewEngine(log *slog.Logger, obs ConnectionObserver, iceServers []webrtc.ICEServer) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	e := &Engine{log: log, obs: obs, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		obs.OnIceCandidate([]byte(c.ToJSON().Candidate))
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			obs.OnIceConnected()
		case webrtc.PeerConnectionStateDisconnected:
			obs.OnIceDisconnected()
		case webrtc.PeerConnectionStateFailed:
			obs.OnIceFailed()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		obs.OnDataChannel(dc)
	})

	return e, nil
}

// CreateDataChannel opens the MRP data channel: unordered, no retransmits,
// since MRP implements its own reliability layer over an intentionally
// unreliable transport (§4.2).
func (e *Engine) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)
	return e.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
}

// CreateOffer generates a local offer and sets it as the local description.
func (e *Engine) CreateOffer(ctx context.Context) (opaque []byte, err error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return []byte(offer.SDP), nil
}

// CreateAnswer applies a remote offer and generates the local answer.
func (e *Engine) CreateAnswer(ctx context.Context, remoteOffer []byte) (opaque []byte, err error) {
	if err := e.setRemote(webrtc.SDPTypeOffer, remoteOffer); err != nil {
		return nil, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return []byte(answer.SDP), nil
}

// ApplyAnswer applies a remote answer to a call that sent the offer.
func (e *Engine) ApplyAnswer(remoteAnswer []byte) error {
	return e.setRemote(webrtc.SDPTypeAnswer, remoteAnswer)
}

func (e *Engine) setRemote(typ webrtc.SDPType, sdp []byte) error {
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: string(sdp)}); err != nil {
		return err
	}
	e.mu.Lock()
	e.remoteSet = true
	toFlush := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, cand := range toFlush {
		if err := e.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: string(cand)}); err != nil {
			e.log.Warn("media: failed to apply buffered ICE candidate", "err", err)
		}
	}
	return nil
}

// AddIceCandidate buffers the candidate if the remote description has not
// yet been set, per §4.3's PendingSignaling invariant; otherwise it is
// applied immediately.
func (e *Engine) AddIceCandidate(opaque []byte) error {
	e.mu.Lock()
	if !e.remoteSet {
		if len(e.pending) >= MaxBufferedCandidates {
			e.mu.Unlock()
			return errors.New("media: ICE candidate buffer full")
		}
		e.pending = append(e.pending, opaque)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: string(opaque)})
}

// Close tears down the peer connection and drops any buffered candidates,
// per §4.3 ("after Terminated the queue is dropped"). Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()
	return e.pc.Close()
}
