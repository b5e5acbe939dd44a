// Package manager implements the Call Manager (C4): it owns the single
// active direct call (a single entry, matched against the remote user of
// each incoming signal), the set of active
// group-call clients, and the outbound HTTP request registry, enforcing "at
// most one active direct call at a time" through glare, ReCall, and
// offer-while-busy resolution. Every public operation is routed through the
// worker runtime's (C7) single actor goroutine, so callers observe
// synchronous effects while C3/C4/C5 state is only ever touched from that
// one goroutine.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sebas/ringrtc/internal/calling"
	"github.com/sebas/ringrtc/internal/calling/calllink"
	"github.com/sebas/ringrtc/internal/calling/direct"
	"github.com/sebas/ringrtc/internal/calling/group"
	"github.com/sebas/ringrtc/internal/calling/platform"
	"github.com/sebas/ringrtc/internal/calling/worker"
	"github.com/sebas/ringrtc/internal/events"
	"github.com/sebas/ringrtc/internal/mrp"
)

func callIDString(id calling.CallId) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Transport is what the manager needs from the embedder/signaling layer to
// emit outbound direct-call messages; it is the narrow slice of
// platform.Observer this package actually drives, isolated so tests can
// fake it cheaply. Concrete implementations (cmd/callsim's loopback
// transport, or a production bridge) are the layer responsible for
// serializing these calls through the C1 wire codec before handing bytes to
// platform.Observer.SendSignaling.
type Transport interface {
	SendOffer(callID calling.CallId, remoteUserID calling.UserId, destinationDeviceID *calling.DeviceId, mediaKind calling.MediaKind, opaque []byte)
	SendAnswer(callID calling.CallId, remoteUserID calling.UserId, opaque []byte)
	SendIceCandidates(callID calling.CallId, remoteUserID calling.UserId, candidates [][]byte)
	SendHangup(callID calling.CallId, remoteUserID calling.UserId, typ calling.EndedReason, chosenDevice *calling.DeviceId, broadcast bool)
	SendBusy(callID calling.CallId, remoteUserID calling.UserId)
}

// deviceCall tracks one multi-ring leg: a callee device a broadcast offer
// was sent to, so the manager can fan out hangup/accepted|declined|busy
// once one device answers, per §4.3's multi-ring shape.
type deviceCall struct {
	deviceID calling.DeviceId
	ended    bool
}

// callEntry is everything the manager tracks about the one active call.
type callEntry struct {
	call    *direct.Call
	devices []*deviceCall // populated only for an outgoing multi-ring call
}

// Manager is the C4 Call Manager. Per §3's invariant, at most one
// DirectCallState is non-terminal at any instant; active holds that one
// call, regardless of which remote user it is with. groupClients holds
// every group-call client the manager has created and not yet ended, per
// §4.4's "owns the set of active group-call clients".
type Manager struct {
	log       *slog.Logger
	obs       platform.Observer
	transport Transport
	sink      events.Sink
	worker    *worker.Worker

	offerExpiry      time.Duration
	reconnectTimeout time.Duration
	groupMediaKeyOverlap time.Duration

	active *callEntry
	ctx    context.Context

	groupClients          map[calling.GroupCallClientId]*group.Client
	groupClientsByGroupID map[string]calling.GroupCallClientId
	callLinkRootKeys      map[calling.GroupCallClientId]string
	nextGroupClientID     calling.GroupCallClientId

	httpRequests *worker.RequestRegistry[*worker.HttpResult]
}

// Config bundles the policy constants and supporting runtime pieces a
// Manager needs beyond Transport/Observer, keeping New's argument list from
// growing unbounded as C7's request-registry and actor wiring joined it.
type Config struct {
	OfferExpiry          time.Duration
	ReconnectTimeout     time.Duration
	GroupMediaKeyOverlap time.Duration
	RequestRegistryTTL   time.Duration
	WorkerQueueDepth     int
}

// New builds an empty Manager, starting its own C7 worker goroutine and
// request registry. sink may be nil, in which case events go unpublished
// (logging still happens independently via log).
func New(ctx context.Context, log *slog.Logger, obs platform.Observer, transport Transport, sink events.Sink, cfg Config) *Manager {
	if cfg.WorkerQueueDepth <= 0 {
		cfg.WorkerQueueDepth = 64
	}
	return &Manager{
		log:                   log,
		obs:                   obs,
		transport:             transport,
		sink:                  sink,
		worker:                worker.New(ctx, log, cfg.WorkerQueueDepth),
		offerExpiry:           cfg.OfferExpiry,
		reconnectTimeout:      cfg.ReconnectTimeout,
		groupMediaKeyOverlap:  cfg.GroupMediaKeyOverlap,
		ctx:                   ctx,
		groupClients:          make(map[calling.GroupCallClientId]*group.Client),
		groupClientsByGroupID: make(map[string]calling.GroupCallClientId),
		callLinkRootKeys:      make(map[calling.GroupCallClientId]string),
		httpRequests:          worker.NewRequestRegistry[*worker.HttpResult](log, cfg.RequestRegistryTTL),
	}
}

// Shutdown stops the actor goroutine and the request registry's background
// cleanup.
func (m *Manager) Shutdown() {
	m.worker.Shutdown()
	m.httpRequests.Close()
}

func (m *Manager) publish(e events.Event) {
	if m.sink != nil {
		m.sink.Publish(e)
	}
}

// CurrentCall returns the active call if it belongs to remoteUserID.
func (m *Manager) CurrentCall(remoteUserID calling.UserId) (*direct.Call, bool) {
	var call *direct.Call
	var ok bool
	m.worker.Do(func() {
		if m.active == nil || m.active.call.RemoteUserID != remoteUserID {
			return
		}
		call, ok = m.active.call, true
	})
	return call, ok
}

func (m *Manager) hooksFor(remoteUserID calling.UserId) direct.Hooks {
	return direct.Hooks{
		OnState: func(s calling.DirectCallState) {
			if m.active == nil || m.active.call.RemoteUserID != remoteUserID {
				return
			}
			m.obs.OnCallState(m.active.call.ID, s)
			m.publish(&events.CallStateChangedEvent{
				BaseEvent:    events.BaseEvent{EventType: events.TypeStateChanged, EventTime: time.Now(), CallID: callIDString(m.active.call.ID)},
				RemoteUserID: remoteUserID,
				State:        s,
			})
		},
		OnEnded: func(reason calling.EndedReason, ageSec int64) {
			if m.active == nil || m.active.call.RemoteUserID != remoteUserID {
				return
			}
			entry := m.active
			history := calling.CallHistoryRecord{
				RemoteUserId: remoteUserID,
				CallKind:     entry.call.Kind,
				MediaKind:    entry.call.MediaKind,
				EndedReason:  reason,
				AgeSec:       ageSec,
				OccurredAt:   time.Now(),
			}
			m.obs.OnCallEnded(entry.call.ID, reason, ageSec, history)
			m.publish(&events.CallEndedEvent{
				BaseEvent:    events.BaseEvent{EventType: events.TypeEnded, EventTime: time.Now(), CallID: callIDString(entry.call.ID)},
				RemoteUserID: remoteUserID,
				Reason:       reason,
				AgeSec:       ageSec,
			})
			m.active = nil
		},
		SendOffer: func(opaque []byte, mediaKind calling.MediaKind) {
			if m.active == nil {
				return
			}
			m.transport.SendOffer(m.active.call.ID, remoteUserID, nil, mediaKind, opaque)
		},
		SendAnswer: func(opaque []byte) {
			if m.active == nil {
				return
			}
			m.transport.SendAnswer(m.active.call.ID, remoteUserID, opaque)
		},
		SendIce: func(candidates [][]byte) {
			if m.active == nil {
				return
			}
			m.transport.SendIceCandidates(m.active.call.ID, remoteUserID, candidates)
		},
	}
}

// Place starts an outgoing call to remoteUserID, per §4.4. Rejected if
// another call is already active, for any remote user.
func (m *Manager) Place(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId) {
	m.worker.Do(func() {
		m.placeLocked(callID, remoteUserID, mediaKind, localDeviceID)
	})
}

func (m *Manager) placeLocked(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId) {
	if m.active != nil && !m.active.call.IsTerminated() {
		m.log.Warn("manager: place while another call is active", "remoteUserId", remoteUserID)
		return
	}
	c := direct.New(callID, calling.CallKindOutgoing, mediaKind, remoteUserID, localDeviceID, m.log, m.hooksFor(remoteUserID), m.reconnectTimeout, m.offerExpiry)
	m.active = &callEntry{call: c}
	m.obs.StartOutgoingCall(callID, remoteUserID)
	c.Place()
}

// Proceed constructs the peer connection for callID's call: for an outgoing
// call this creates and ships the offer; for an incoming one it applies the
// held remote offer and ships the answer, per §4.3/§4.4.
func (m *Manager) Proceed(callID calling.CallId, iceServers []webrtc.ICEServer) error {
	var err error
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.IsTerminated() {
			return
		}
		err = entry.call.Proceed(iceServers)
	})
	return err
}

// ReceivedOffer handles an inbound offer, applying glare, ReCall, and
// offer-while-busy resolution per §4.3/§7 before either surfacing a fresh
// incoming call or folding the event into the existing one.
func (m *Manager) ReceivedOffer(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId, opaque []byte, messageAgeSec int64) {
	m.worker.Do(func() {
		if m.active != nil && !m.active.call.IsTerminated() {
			if m.active.call.RemoteUserID == remoteUserID {
				m.receivedOfferFromActiveRemoteUser(callID, remoteUserID, mediaKind, localDeviceID, opaque, messageAgeSec)
				return
			}

			// A call with a different remote user is active: §7's
			// "offer while busy". The new offer never starts; Busy is sent back.
			m.transport.SendBusy(callID, remoteUserID)
			m.obs.OnCallEnded(callID, calling.EndedReceivedOfferWhileActive, 0, calling.CallHistoryRecord{
				RemoteUserId: remoteUserID,
				CallKind:     calling.CallKindIncoming,
				MediaKind:    mediaKind,
				EndedReason:  calling.EndedReceivedOfferWhileActive,
				OccurredAt:   time.Now(),
			})
			return
		}

		m.startIncoming(callID, remoteUserID, mediaKind, localDeviceID, opaque, messageAgeSec)
	})
}

func (m *Manager) receivedOfferFromActiveRemoteUser(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId, opaque []byte, messageAgeSec int64) {
	existing := m.active

	if existing.call.Kind == calling.CallKindOutgoing &&
		(existing.call.State() == calling.StateWaitingToProceed || existing.call.State() == calling.StateConnectingBeforeAccepted) {
		m.resolveGlare(existing, callID, remoteUserID, mediaKind, localDeviceID, opaque, messageAgeSec)
		return
	}

	if existing.call.State() == calling.StateConnected || existing.call.State() == calling.StateReconnecting {
		// ReCall: recover from a silently dropped peer.
		existing.call.HangupRemote(calling.EndedReCall)
		m.startIncoming(callID, remoteUserID, mediaKind, localDeviceID, opaque, messageAgeSec)
		return
	}

	// Any other overlap with the same remote user (e.g. an incoming call
	// already ringing) is treated as busy.
	m.transport.SendBusy(callID, remoteUserID)
}

func (m *Manager) startIncoming(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId, opaque []byte, messageAgeSec int64) {
	c := direct.New(callID, calling.CallKindIncoming, mediaKind, remoteUserID, localDeviceID, m.log, m.hooksFor(remoteUserID), m.reconnectTimeout, m.offerExpiry)
	m.active = &callEntry{call: c}

	if expired := c.ReceiveOffer(opaque, messageAgeSec); expired {
		return // endWithAge already fired OnEnded; no start-incoming event.
	}
	m.obs.StartIncomingCall(callID, remoteUserID, mediaKind == calling.MediaKindAudioVideo)
}

// resolveGlare implements §4.3's three-way glare outcome.
func (m *Manager) resolveGlare(existing *callEntry, incomingID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId, opaque []byte, messageAgeSec int64) {
	outcome := calling.ResolveGlare(existing.call.ID, incomingID)
	switch outcome {
	case calling.GlareWinner:
		// Our outgoing call wins; the incoming offer is dropped and only
		// logged. No receivedOfferWithGlare event reaches the Observer,
		// and no signaling is sent toward the loser's callId.
		m.log.Info("manager: glare winner, keeping outgoing call", "ours", existing.call.ID, "theirs", incomingID)
	case calling.GlareLoser:
		existing.call.HangupRemote(calling.EndedGlare)
		m.startIncoming(incomingID, remoteUserID, mediaKind, localDeviceID, opaque, messageAgeSec)
	case calling.GlareEqual:
		existing.call.HangupRemote(calling.EndedGlareFailure)
		m.transport.SendBusy(incomingID, remoteUserID)
	}
}

// ReceivedAnswer applies a remote answer to the current outgoing call.
func (m *Manager) ReceivedAnswer(callID calling.CallId, remoteUserID calling.UserId, opaque []byte) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.RemoteUserID != remoteUserID || entry.call.IsTerminated() {
			return
		}
		entry.call.ReceiveAnswer(opaque)
	})
}

// ReceivedIceCandidates routes remote ICE candidates to the current call.
func (m *Manager) ReceivedIceCandidates(callID calling.CallId, remoteUserID calling.UserId, candidates [][]byte) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.RemoteUserID != remoteUserID || entry.call.IsTerminated() {
			return
		}
		for _, cand := range candidates {
			entry.call.AddIceCandidate(cand)
		}
	})
}

// ReceivedHangup handles an inbound hangup for the current call, already
// mapped from the wire's HangupType to an EndedReason by the Transport
// layer that decoded it.
func (m *Manager) ReceivedHangup(callID calling.CallId, remoteUserID calling.UserId, reason calling.EndedReason) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.RemoteUserID != remoteUserID {
			return
		}
		entry.call.HangupRemote(reason)
	})
}

// ReceivedBusy handles an inbound busy for the current call.
func (m *Manager) ReceivedBusy(callID calling.CallId, remoteUserID calling.UserId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.RemoteUserID != remoteUserID {
			return
		}
		entry.call.HangupRemote(calling.EndedRemoteHangupBusy)
	})
}

// ReceivedCallMessage handles an inbound 1:1 application data-channel
// message. The payload itself belongs to the application above C4; the Call
// Manager only logs it, per §6.
func (m *Manager) ReceivedCallMessage(senderUserID calling.UserId, body []byte, urgency platform.Urgency) {
	m.worker.Do(func() {
		m.log.Debug("manager: received call message", "sender", senderUserID, "bytes", len(body), "urgency", urgency)
	})
}

// ReceivedCallMessageFromGroup routes an inbound group-call in-band control
// message (video-request acks, admin actions, raised hands, peek pushes) to
// the matching group-call client's MRP reassembly, per §4.2/§4.5/§6. This
// is how C2 (MRP) is exercised when the SFU's DataChannel bytes are relayed
// through the embedder's application messaging instead of a direct peer
// connection to the SFU.
func (m *Manager) ReceivedCallMessageFromGroup(groupID string, senderUserID calling.UserId, body []byte, urgency platform.Urgency) {
	m.worker.Do(func() {
		id, ok := m.groupClientsByGroupID[groupID]
		if !ok {
			return
		}
		client := m.groupClients[id]
		if client == nil {
			return
		}
		pkt, err := mrp.DecodePacket(body)
		if err != nil {
			m.log.Warn("manager: malformed MRP packet from group", "groupId", groupID, "err", err)
			return
		}
		client.ReceiveFromSfu(pkt)
	})
}

// Accept accepts the current incoming call.
func (m *Manager) Accept(callID calling.CallId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.IsTerminated() {
			return
		}
		entry.call.Accept()
	})
}

// Ignore declines an incoming call without notifying the remote party (the
// UI's "swipe away" affordance): unlike Hangup, it never calls
// Transport.SendHangup, per §4.4.
func (m *Manager) Ignore(callID calling.CallId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.IsTerminated() {
			return
		}
		entry.call.HangupLocal()
	})
}

// Hangup ends the current call, whichever remote user it is with, and
// notifies the remote party.
func (m *Manager) Hangup(callID calling.CallId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil || entry.call.IsTerminated() {
			return
		}
		remoteUserID := entry.call.RemoteUserID
		entry.call.HangupLocal()
		m.transport.SendHangup(callID, remoteUserID, calling.EndedLocalHangup, nil, false)
	})
}

// Drop silently closes callID without signaling, per §4.4 (testing/ReCall).
func (m *Manager) Drop(callID calling.CallId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil {
			return
		}
		entry.call.HangupRemote(calling.EndedAppDropped)
	})
}

// findByCallID returns the active entry if its CallId matches, else nil —
// commands targeting a CallId that no longer matches the current call are
// dropped silently, per §4.4. Callers must already be running on the actor
// goroutine (i.e. from inside a worker.Do closure).
func (m *Manager) findByCallID(callID calling.CallId) *callEntry {
	if m.active == nil || m.active.call.ID != callID {
		return nil
	}
	return m.active
}

// PlaceMultiRing starts an outgoing call broadcast to every device of
// remoteUserID, per the multi-ring shape of §4.3.
func (m *Manager) PlaceMultiRing(callID calling.CallId, remoteUserID calling.UserId, mediaKind calling.MediaKind, localDeviceID calling.DeviceId, calleeDevices []calling.DeviceId) {
	m.worker.Do(func() {
		m.placeLocked(callID, remoteUserID, mediaKind, localDeviceID)
		if m.active == nil {
			return
		}
		for _, d := range calleeDevices {
			m.active.devices = append(m.active.devices, &deviceCall{deviceID: d})
		}
	})
}

// ReceivedAcceptedOnDevice handles the chosen callee device's
// hangup/accepted echo: the caller fans out hangup/accepted{deviceId=chosen}
// to every other device, each of which will report
// endedRemoteHangupAccepted, per §4.3/§8 scenario 5.
func (m *Manager) ReceivedAcceptedOnDevice(callID calling.CallId, chosenDevice calling.DeviceId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil {
			return
		}
		entry.call.RemoteAccept()
		m.transport.SendHangup(callID, entry.call.RemoteUserID, calling.EndedRemoteHangupAccepted, &chosenDevice, true)
		for _, d := range entry.devices {
			if d.deviceID == chosenDevice || d.ended {
				continue
			}
			// The other devices observe endedRemoteHangupAccepted locally on
			// their own Call instances; this just marks the leg as resolved so
			// it is not re-broadcast to.
			d.ended = true
		}
	})
}

// ReceivedBusyOnDevice handles a callee device answering Busy immediately
// because it is already on another call: once every device has reported
// busy, the caller ends the call with RemoteHangupBusy.
func (m *Manager) ReceivedBusyOnDevice(callID calling.CallId, fromDevice calling.DeviceId) {
	m.worker.Do(func() {
		entry := m.findByCallID(callID)
		if entry == nil {
			return
		}
		for _, d := range entry.devices {
			if d.deviceID == fromDevice {
				d.ended = true
			}
		}
		for _, d := range entry.devices {
			if !d.ended {
				return
			}
		}
		entry.call.HangupRemote(calling.EndedRemoteHangupBusy)
	})
}

// groupHooksFor builds the group.Hooks that route a client's control-plane
// traffic through the embedder's group call-message channel (§4.2/§4.5) and
// remove the client from the manager's tracked set once it ends, per §4.4's
// "owns the set of active group-call clients".
func (m *Manager) groupHooksFor(id calling.GroupCallClientId, groupID string) group.Hooks {
	return group.Hooks{
		SendToSfu: func(p mrp.Packet) {
			m.obs.SendCallMessageToGroup(groupID, mrp.EncodePacket(p), platform.UrgencyHandleImmediately, nil)
		},
		OnEnded: func(reason calling.GroupEndReason) {
			m.worker.Do(func() {
				delete(m.groupClients, id)
				delete(m.groupClientsByGroupID, groupID)
				delete(m.callLinkRootKeys, id)
			})
		},
	}
}

// CreateGroupCallClient builds and joins a new group-call client for
// groupID, tracking it in the manager's set of active clients, per §4.4/§4.5.
func (m *Manager) CreateGroupCallClient(groupID string, iceServers []webrtc.ICEServer, requiresApproval bool) (calling.GroupCallClientId, error) {
	var id calling.GroupCallClientId
	var err error
	m.worker.Do(func() {
		id = m.nextGroupClientID
		m.nextGroupClientID++
		client := group.New(id, m.log, m.groupHooksFor(id, groupID), m.groupMediaKeyOverlap)
		if joinErr := client.Join(iceServers, requiresApproval); joinErr != nil {
			err = joinErr
			return
		}
		m.groupClients[id] = client
		m.groupClientsByGroupID[groupID] = id
	})
	return id, err
}

// CreateCallLinkCallClient is CreateGroupCallClient specialized for a
// call-link-backed room: the group id is the link's rootKey, and the
// manager remembers that association for PeekCallLinkCall, per §4.4/§4.6.
func (m *Manager) CreateCallLinkCallClient(rootKey string, iceServers []webrtc.ICEServer, requiresApproval bool) (calling.GroupCallClientId, error) {
	id, err := m.CreateGroupCallClient(rootKey, iceServers, requiresApproval)
	if err != nil {
		return 0, err
	}
	m.worker.Do(func() {
		m.callLinkRootKeys[id] = rootKey
	})
	return id, nil
}

// CancelGroupRing cancels an outstanding group ring the local user
// initiated, surfacing RingCancelledByRinger to the embedder, per §4.4/§6.
func (m *Manager) CancelGroupRing(groupID string, ringID int64, ringerUserID calling.UserId) {
	m.worker.Do(func() {
		m.obs.OnGroupCallRingUpdate(groupID, ringID, ringerUserID, platform.RingCancelledByRinger)
	})
}

// peekInfoWire is the JSON shape a peek HTTP response carries, decoded by
// PeekGroupCall/PeekCallLinkCall's request-registry completion.
type peekInfoWire struct {
	EraId         *string           `json:"eraId"`
	CreatorUserId *calling.UserId   `json:"creatorUserId"`
	MaxDevices    *uint32           `json:"maxDevices"`
	PendingUsers  []calling.UserId  `json:"pendingUsers"`
	Devices       []peekDeviceWire  `json:"devices"`
}

type peekDeviceWire struct {
	DemuxId calling.DemuxId `json:"demuxId"`
	UserId  *calling.UserId `json:"userId"`
}

func decodePeekInfo(body []byte) (*calling.PeekInfo, error) {
	var w peekInfoWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	devices := make([]calling.PeekDevice, 0, len(w.Devices))
	for _, d := range w.Devices {
		devices = append(devices, calling.PeekDevice{DemuxId: d.DemuxId, UserId: d.UserId})
	}
	return &calling.PeekInfo{
		EraId:         w.EraId,
		CreatorUserId: w.CreatorUserId,
		MaxDevices:    w.MaxDevices,
		Devices:       devices,
		PendingUsers:  w.PendingUsers,
	}, nil
}

// PeekGroupCall issues a non-joining membership query against the SFU
// through the embedder's HTTP bridge (§4.7). The response is pushed to
// the one tracked client registered for groupID (if any) in addition to
// invoking onComplete; no other client receives it.
func (m *Manager) PeekGroupCall(groupID, url string, onComplete func(*calling.PeekInfo, error)) uint64 {
	var requestID uint64
	m.worker.Do(func() {
		// onComplete runs via RequestRegistry.Complete, which ReceivedHttpResponse/
		// HttpRequestFailed already call from inside their own worker.Do closure —
		// it must NOT re-enter worker.Do itself, or the single actor goroutine
		// would deadlock waiting on its own queue.
		requestID = m.httpRequests.Register(func(res *worker.HttpResult, err error) {
			m.completePeek(groupID, res, err, onComplete)
		})
		m.obs.SendHttpRequest(requestID, url, platform.HttpGet, nil, nil)
	})
	return requestID
}

func (m *Manager) completePeek(groupID string, res *worker.HttpResult, err error, onComplete func(*calling.PeekInfo, error)) {
	if err != nil {
		if onComplete != nil {
			onComplete(nil, err)
		}
		return
	}
	peek, perr := decodePeekInfo(res.Body)
	if perr != nil {
		if onComplete != nil {
			onComplete(nil, perr)
		}
		return
	}
	if id, ok := m.groupClientsByGroupID[groupID]; ok {
		if client := m.groupClients[id]; client != nil {
			client.UpdatePeek(*peek)
		}
	}
	if onComplete != nil {
		onComplete(peek, nil)
	}
}

// PeekCallLinkCall peeks a call-link room's membership the same way
// PeekGroupCall does, decoding the call-link body shape instead, per
// §4.6/§4.7.
func (m *Manager) PeekCallLinkCall(rootKey string, adminPasskey []byte, baseURL string, onComplete func(*calling.CallLinkState, error)) uint64 {
	var requestID uint64
	m.worker.Do(func() {
		requestID = m.httpRequests.Register(func(res *worker.HttpResult, err error) {
			m.completeCallLinkPeek(res, err, onComplete)
		})
		m.obs.SendHttpRequest(requestID, baseURL+calllink.RoomPath(rootKey), platform.HttpGet, calllink.AuthHeaders(adminPasskey), nil)
	})
	return requestID
}

func (m *Manager) completeCallLinkPeek(res *worker.HttpResult, err error, onComplete func(*calling.CallLinkState, error)) {
	if err != nil {
		if onComplete != nil {
			onComplete(nil, err)
		}
		return
	}
	state, derr := calllink.DecodeBody(res.Body)
	if onComplete != nil {
		onComplete(state, derr)
	}
}

// ReceivedHttpResponse completes a pending embedder-mediated HTTP request,
// per §4.7.
func (m *Manager) ReceivedHttpResponse(requestID uint64, status int, body []byte) {
	m.worker.Do(func() {
		m.httpRequests.Complete(requestID, &worker.HttpResult{Status: status, Body: body}, nil)
	})
}

// HttpRequestFailed fails a pending embedder-mediated HTTP request, per
// §4.7.
func (m *Manager) HttpRequestFailed(requestID uint64, debugInfo string) {
	m.worker.Do(func() {
		m.httpRequests.Complete(requestID, nil, errors.New("manager: http request failed: "+debugInfo))
	})
}
