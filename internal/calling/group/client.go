// Package group implements the group-call client (C5): one per-joined-call
// state machine coordinating with an SFU, maintaining the end-to-end
// encrypted media-key ratchet, remote device table, and peek distribution.
package group

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sebas/ringrtc/internal/calling"
	"github.com/sebas/ringrtc/internal/calling/media"
	"github.com/sebas/ringrtc/internal/mrp"
	"github.com/sebas/ringrtc/internal/store"
)

// mrpFragmentSize bounds the payload each MRP packet carries over the
// control data channel.
const mrpFragmentSize = 1024

// Hooks reports group-call lifecycle and membership events back to the
// owner, mirroring direct.Hooks' shape for the same reason: the client
// itself stays ignorant of how those events reach the embedder.
type Hooks struct {
	OnJoinStateChanged       func(state calling.JoinState)
	OnConnectionStateChanged func(state calling.ConnectionState)
	OnRemoteDevicesChanged   func(devices []calling.RemoteDevice)
	OnPeekChanged            func(peek calling.PeekInfo)
	OnEnded                  func(reason calling.GroupEndReason)
	SendMediaKey             func(key calling.MediaKey, toUserID *calling.UserId)
	// SendToSfu delivers one outbound MRP packet (video request, admin
	// action, raised hand, or reaction) to the SFU over whatever channel
	// the owner uses to carry DeviceToSfu control messages, per §4.2/§4.5.
	SendToSfu func(packet mrp.Packet)
}

// connectionObserver adapts the media engine's ConnectionObserver callbacks
// to the owning Client.
type connectionObserver struct {
	c *Client
}

func (o *connectionObserver) OnIceCandidate(opaque []byte) {}
func (o *connectionObserver) OnIceConnected() {
	o.c.mu.Lock()
	o.c.setConnectionState(calling.ConnConnected)
	o.c.mu.Unlock()
}
func (o *connectionObserver) OnIceDisconnected() {
	o.c.mu.Lock()
	o.c.setConnectionState(calling.ConnReconnecting)
	o.c.mu.Unlock()
}
func (o *connectionObserver) OnIceFailed() {
	o.c.end(calling.GroupEndIceFailedAfterConnected)
}
func (o *connectionObserver) OnDataChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		pkt, err := mrp.DecodePacket(msg.Data)
		if err != nil {
			o.c.log.Warn("group: malformed MRP packet from SFU", "err", err)
			return
		}
		o.c.ReceiveFromSfu(pkt)
	})
}

// ratchetInterval is the fixed policy interval at which the outbound media
// key is rotated even with no membership change, per §4.5.
const ratchetInterval = 1 * time.Hour

// Client is one joined group call, per §4.5.
type Client struct {
	ID            calling.GroupCallClientId
	log           *slog.Logger
	hooks         Hooks
	mediaKeyOverlap time.Duration

	mu sync.Mutex

	connectionState calling.ConnectionState
	joinState       calling.JoinState
	localDemuxID    *calling.DemuxId

	devices map[calling.DemuxId]*calling.RemoteDevice
	peek    calling.PeekInfo

	outboundKey        calling.MediaKey
	previousOutbound   *store.TTLStore[int, calling.MediaKey] // single-entry overlap window for our own rekeys
	previousInbound    *store.TTLStore[calling.DemuxId, calling.MediaKey]
	inboundKeys        map[calling.DemuxId]calling.MediaKey

	ended      bool
	ratchetTimer *time.Timer

	engine         *media.Engine
	controlChannel *webrtc.DataChannel
	mrpSender      *mrp.Sender
	mrpReceiver    *mrp.Receiver
	raiseHandSeq   atomic.Uint64
}

// New builds a Client in NotJoined/NotConnected, ready for Join.
func New(id calling.GroupCallClientId, log *slog.Logger, hooks Hooks, mediaKeyOverlap time.Duration) *Client {
	c := &Client{
		ID:              id,
		log:             log.With("groupCallClientId", id),
		hooks:           hooks,
		mediaKeyOverlap: mediaKeyOverlap,
		devices:          make(map[calling.DemuxId]*calling.RemoteDevice),
		inboundKeys:      make(map[calling.DemuxId]calling.MediaKey),
		previousOutbound: store.NewTTLStore[int, calling.MediaKey](time.Second),
		previousInbound:  store.NewTTLStore[calling.DemuxId, calling.MediaKey](time.Second),
	}
	c.mrpSender = mrp.NewSender(c.log, func(p mrp.Packet) {
		// hooks.SendToSfu is how the owner (the Call Manager) routes the
		// packet to the embedder's real transport; the local data channel
		// is used directly only when the owner hasn't wired that hook.
		if c.hooks.SendToSfu != nil {
			c.hooks.SendToSfu(p)
			return
		}
		if c.controlChannel != nil {
			_ = c.controlChannel.Send(mrp.EncodePacket(p))
		}
	})
	return c
}

// Join constructs the peer connection to the SFU and opens the MRP control
// channel. requiresApproval reflects the call link's restriction; the
// caller is responsible for actually talking to the SFU and invoking
// DenyJoin or JoinCompleted.
func (c *Client) Join(iceServers []webrtc.ICEServer, requiresApproval bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	engine, err := media.NewEngine(c.log, &connectionObserver{c: c}, iceServers)
	if err != nil {
		return err
	}
	c.engine = engine

	dc, err := engine.CreateDataChannel("mrp")
	if err != nil {
		return err
	}
	c.controlChannel = dc
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		pkt, derr := mrp.DecodePacket(msg.Data)
		if derr != nil {
			c.log.Warn("group: malformed MRP packet from SFU", "err", derr)
			return
		}
		c.ReceiveFromSfu(pkt)
	})

	c.setJoinState(calling.JoinJoining)
	c.setConnectionState(calling.ConnConnecting)
	if requiresApproval {
		c.setJoinState(calling.JoinPending)
	}
	return nil
}

// JoinCompleted finalizes a join once the SFU has assigned a demuxId.
func (c *Client) JoinCompleted(demuxID calling.DemuxId, maxDevices uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localDemuxID = &demuxID
	c.setJoinState(calling.JoinJoined)
	c.setConnectionState(calling.ConnConnected)
	c.generateOutboundKey()
	if c.ratchetTimer == nil {
		c.ratchetTimer = time.AfterFunc(ratchetInterval, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.ended {
				return
			}
			c.ratchetOutboundKey()
			c.ratchetTimer.Reset(ratchetInterval)
		})
	}
}

// DenyJoin ends the client after the SFU denies an approval-gated join.
func (c *Client) DenyJoin() {
	c.end(calling.GroupEndDeniedRequestToJoinCall)
}

func (c *Client) setJoinState(s calling.JoinState) {
	c.joinState = s
	if c.hooks.OnJoinStateChanged != nil {
		c.hooks.OnJoinStateChanged(s)
	}
}

func (c *Client) setConnectionState(s calling.ConnectionState) {
	c.connectionState = s
	if c.hooks.OnConnectionStateChanged != nil {
		c.hooks.OnConnectionStateChanged(s)
	}
}

// generateOutboundKey creates ratchetCounter=0 key material. Caller holds
// c.mu.
func (c *Client) generateOutboundKey() {
	secret := make([]byte, 32)
	// Key material is supplied by the embedder's crypto library in
	// production; tests and this façade substitute a process-local
	// placeholder since RingRTC's crypto stack is out of scope (§1 Non-goals).
	c.outboundKey = calling.MediaKey{RatchetCounter: 0, Secret: secret}
	if c.hooks.SendMediaKey != nil {
		c.hooks.SendMediaKey(c.outboundKey, nil)
	}
}

// ratchetOutboundKey rotates the outbound key, retaining the previous
// generation for the overlap window so in-flight frames still decrypt, per
// §4.5/§8.
func (c *Client) ratchetOutboundKey() {
	prev := c.outboundKey
	c.previousOutbound.Set(0, prev, c.mediaKeyOverlap)
	next := make([]byte, len(prev.Secret))
	for i := range next {
		next[i] = prev.Secret[i] ^ 0x5a // deterministic replacement, not a real KDF
	}
	c.outboundKey = calling.MediaKey{RatchetCounter: prev.RatchetCounter + 1, Secret: next}
	if c.hooks.SendMediaKey != nil {
		c.hooks.SendMediaKey(c.outboundKey, nil)
	}
}

// OutboundKey returns the current outbound key (for tests/inspection).
func (c *Client) OutboundKey() calling.MediaKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outboundKey
}

// DeviceJoined adds a remote device to the table, per §4.5.
func (c *Client) DeviceJoined(demuxID calling.DemuxId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[demuxID] = &calling.RemoteDevice{DemuxId: demuxID, AddedTimeMs: time.Now().UnixMilli()}
	c.notifyDevices()
}

// DeviceLeft removes a remote device and ratchets the outbound key, since
// the need-to-know set has shrunk, per §4.5.
func (c *Client) DeviceLeft(demuxID calling.DemuxId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, demuxID)
	delete(c.inboundKeys, demuxID)
	c.ratchetOutboundKey()
	c.notifyDevices()
}

func (c *Client) notifyDevices() {
	if c.hooks.OnRemoteDevicesChanged == nil {
		return
	}
	list := make([]calling.RemoteDevice, 0, len(c.devices))
	for _, d := range c.devices {
		list = append(list, *d)
	}
	c.hooks.OnRemoteDevicesChanged(list)
}

// ResendMediaKeys is the embedder-requested resend, per §4.5.
func (c *Client) ResendMediaKeys() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratchetOutboundKey()
}

// ReceivedMediaKey records an inbound key from a remote device; the
// previous generation (if any) is kept only for the overlap window in the
// client's previousInbound TTL store, so frames encrypted under the old
// generation still decrypt.
func (c *Client) ReceivedMediaKey(demuxID calling.DemuxId, key calling.MediaKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.inboundKeys[demuxID]; ok {
		c.previousInbound.Set(demuxID, old, c.mediaKeyOverlap)
	}
	c.inboundKeys[demuxID] = key
	if dev, ok := c.devices[demuxID]; ok {
		dev.MediaKeyReceived = true
	}
}

// AcceptsKeyGeneration reports whether a frame encrypted under ratchetCounter
// from demuxID should still be accepted: the current generation always is;
// the previous generation is accepted only within the overlap window.
func (c *Client) AcceptsKeyGeneration(demuxID calling.DemuxId, ratchetCounter uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.inboundKeys[demuxID]; ok && cur.RatchetCounter == ratchetCounter {
		return true
	}
	if prev, ok := c.previousInbound.Get(demuxID); ok && prev.RatchetCounter == ratchetCounter {
		return true
	}
	return false
}

// UpdatePeek applies a fresh PeekInfo and notifies observers, per §4.5
// ("peek responses are also pushed to all joined clients of the same
// call").
func (c *Client) UpdatePeek(peek calling.PeekInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peek = peek
	if c.hooks.OnPeekChanged != nil {
		c.hooks.OnPeekChanged(peek)
	}
}

// End terminates the client for reason, zeroizing outbound key material
// first, per §4.5.
func (c *Client) End(reason calling.GroupEndReason) {
	c.end(reason)
}

func (c *Client) end(reason calling.GroupEndReason) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.outboundKey.Zeroize()
	c.previousOutbound.Close()
	c.previousInbound.Close()
	if c.ratchetTimer != nil {
		c.ratchetTimer.Stop()
	}
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.log.Warn("group: failed to close media engine", "err", err)
		}
	}
	c.mu.Unlock()

	if c.hooks.OnEnded != nil {
		c.hooks.OnEnded(reason)
	}
}

// IsEnded reports whether the client has already terminated.
func (c *Client) IsEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// VideoRequestSpec is the embedder's desired render resolution for one
// remote demuxId, per §4.5 "Video requests".
type VideoRequestSpec struct {
	Width, Height uint32
	Framerate     *uint32
}

// VideoRequest aggregates the embedder's per-demuxId render requests, adds
// an active-speaker minimum height, and ships a DeviceToSfu.VideoRequest
// over the MRP control channel, per §4.5.
func (c *Client) VideoRequest(requests map[calling.DemuxId]VideoRequestSpec, activeSpeakerHeight uint32) {
	c.send(encodeVideoRequest(requests, activeSpeakerHeight))
}

// AdminAction is one of the four §4.5 admin operations, each idempotent on
// the wire since the SFU is authoritative.
type AdminAction int

const (
	AdminActionApprove AdminAction = iota
	AdminActionDeny
	AdminActionRemove
	AdminActionBlock
)

// ApproveUser admits a pending join request, per §4.5.
func (c *Client) ApproveUser(targetDemuxID calling.DemuxId) { c.sendAdminAction(AdminActionApprove, targetDemuxID) }

// DenyUser rejects a pending join request, per §4.5.
func (c *Client) DenyUser(targetDemuxID calling.DemuxId) { c.sendAdminAction(AdminActionDeny, targetDemuxID) }

// RemoveClient evicts an already-joined device, per §4.5.
func (c *Client) RemoveClient(targetDemuxID calling.DemuxId) {
	c.sendAdminAction(AdminActionRemove, targetDemuxID)
}

// BlockClient evicts a device and prevents it from rejoining, per §4.5.
func (c *Client) BlockClient(targetDemuxID calling.DemuxId) {
	c.sendAdminAction(AdminActionBlock, targetDemuxID)
}

func (c *Client) sendAdminAction(action AdminAction, targetDemuxID calling.DemuxId) {
	c.send(encodeAdminAction(action, targetDemuxID))
}

// RaiseHand toggles the local raised-hand state. Toggles are ordered by a
// monotonic seqnum so the SFU and other observers can order them even if
// MRP delivers them out of transmission order within its own window, per
// §4.5's "Raised hands & reactions".
func (c *Client) RaiseHand(raised bool) {
	seq := c.raiseHandSeq.Add(1)
	c.send(encodeRaiseHand(raised, seq))
}

// Reaction broadcasts a best-effort reaction, per §4.5.
func (c *Client) Reaction(value string) {
	c.send(encodeReaction(value))
}

func (c *Client) send(payload []byte) {
	c.mu.Lock()
	sender := c.mrpSender
	c.mu.Unlock()
	if sender == nil {
		return
	}
	sender.Send(context.Background(), payload, mrpFragmentSize)
}

// ReceiveFromSfu feeds one inbound MRP packet carrying an SfuToDevice
// control message (peek/speaker/video-request/raised-hands/etc, per §6)
// into the client's reassembly state and acks it back to the SFU.
func (c *Client) ReceiveFromSfu(pkt mrp.Packet) {
	c.mu.Lock()
	if c.mrpReceiver == nil {
		c.mrpReceiver = mrp.NewReceiver(c.log, c.handleSfuMessage, func(ackNum uint32) {
			if c.hooks.SendToSfu != nil {
				c.hooks.SendToSfu(mrp.Packet{AckNum: ackNum})
			}
		})
	}
	recv := c.mrpReceiver
	c.mu.Unlock()
	recv.Receive(pkt)
}

func (c *Client) handleSfuMessage(content []byte) {
	c.log.Debug("group: received SFU control message", "bytes", len(content))
}

// ReceivedSfuAck stops retransmission of every outbound MRP packet the SFU
// has cumulatively acknowledged up to ackNum.
func (c *Client) ReceivedSfuAck(ackNum uint32) {
	c.mu.Lock()
	sender := c.mrpSender
	c.mu.Unlock()
	if sender != nil {
		sender.Ack(ackNum)
	}
}
