// Package calling holds the data model shared by the direct-call, group-call,
// and call-link components: identifiers, enums, and the small value types
// that cross component boundaries.
package calling

import "time"

// CallId is a 64-bit opaque identifier. Unsigned comparison is authoritative
// for glare tie-breaks and it is the key for per-call routing.
type CallId uint64

// Less reports whether c sorts before other under unsigned comparison.
func (c CallId) Less(other CallId) bool { return uint64(c) < uint64(other) }

// UserId is a variable-length opaque identity, compared bytewise.
type UserId string

// DeviceId identifies one endpoint of a user.
type DeviceId uint32

// CallKind distinguishes the two directions a direct call can start from.
type CallKind int

const (
	CallKindOutgoing CallKind = iota
	CallKindIncoming
)

func (k CallKind) String() string {
	if k == CallKindIncoming {
		return "incoming"
	}
	return "outgoing"
}

// MediaKind is the media envelope a call was placed or offered with.
type MediaKind int

const (
	MediaKindAudio MediaKind = iota
	MediaKindAudioVideo
)

// DirectCallState is one state of the §4.3 direct-call state machine.
type DirectCallState int

const (
	StateNotYetStarted DirectCallState = iota
	StateWaitingToProceed
	StateConnectingBeforeAccepted
	StateConnectingAfterAccepted
	StateConnected
	StateReconnecting
	StateTerminating
	StateTerminated
)

func (s DirectCallState) String() string {
	switch s {
	case StateNotYetStarted:
		return "NotYetStarted"
	case StateWaitingToProceed:
		return "WaitingToProceed"
	case StateConnectingBeforeAccepted:
		return "ConnectingBeforeAccepted"
	case StateConnectingAfterAccepted:
		return "ConnectingAfterAccepted"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the state is the terminal state.
func (s DirectCallState) IsTerminal() bool { return s == StateTerminated }

// validDirectTransitions enumerates every legal move of the §4.3 table.
var validDirectTransitions = map[DirectCallState][]DirectCallState{
	StateNotYetStarted:            {StateWaitingToProceed},
	StateWaitingToProceed:         {StateConnectingBeforeAccepted, StateTerminating},
	StateConnectingBeforeAccepted: {StateConnectingBeforeAccepted, StateConnectingAfterAccepted, StateTerminating},
	StateConnectingAfterAccepted:  {StateConnected, StateTerminating},
	StateConnected:                {StateReconnecting, StateTerminating},
	StateReconnecting:             {StateConnected, StateTerminating},
	StateTerminating:              {StateTerminated},
	StateTerminated:               {},
}

// CanTransitionTo reports whether next is a legal move from s.
func (s DirectCallState) CanTransitionTo(next DirectCallState) bool {
	for _, allowed := range validDirectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// GlareOutcome is the result of comparing two CallIds for the same remote
// user, computed by unsigned comparison.
type GlareOutcome int

const (
	GlareWinner GlareOutcome = iota
	GlareLoser
	GlareEqual
)

// ResolveGlare compares the existing outgoing CallId against an incoming
// offer's CallId, per §4.3.
func ResolveGlare(existingOutgoing, incoming CallId) GlareOutcome {
	switch {
	case existingOutgoing == incoming:
		return GlareEqual
	case existingOutgoing.Less(incoming):
		return GlareLoser
	default:
		return GlareWinner
	}
}

// EndedReason is why a direct call ended, per §7.
type EndedReason int

const (
	EndedLocalHangup EndedReason = iota
	EndedRemoteHangup
	EndedRemoteHangupAccepted
	EndedRemoteHangupDeclined
	EndedRemoteHangupBusy
	EndedRemoteHangupNeedPermission
	EndedGlare
	EndedReCall
	EndedGlareFailure
	EndedReceivedOfferExpired
	EndedReceivedOfferWhileActive
	EndedSignalingFailure
	EndedConnectionFailure
	EndedInternalFailure
	EndedAppDropped
)

func (r EndedReason) String() string {
	switch r {
	case EndedLocalHangup:
		return "LocalHangup"
	case EndedRemoteHangup:
		return "RemoteHangup"
	case EndedRemoteHangupAccepted:
		return "RemoteHangupAccepted"
	case EndedRemoteHangupDeclined:
		return "RemoteHangupDeclined"
	case EndedRemoteHangupBusy:
		return "RemoteHangupBusy"
	case EndedRemoteHangupNeedPermission:
		return "RemoteHangupNeedPermission"
	case EndedGlare:
		return "Glare"
	case EndedReCall:
		return "ReCall"
	case EndedGlareFailure:
		return "GlareFailure"
	case EndedReceivedOfferExpired:
		return "ReceivedOfferExpired"
	case EndedReceivedOfferWhileActive:
		return "ReceivedOfferWhileActive"
	case EndedSignalingFailure:
		return "SignalingFailure"
	case EndedConnectionFailure:
		return "ConnectionFailure"
	case EndedInternalFailure:
		return "InternalFailure"
	case EndedAppDropped:
		return "AppDropped"
	default:
		return "Unknown"
	}
}

// PendingSignaling buffers ICE candidates that arrive before the peer
// connection exists, per CallId, per §4.3.
type PendingSignaling struct {
	CallId     CallId
	Candidates []string // opaque engine candidate blobs, in arrival order
}

// Ring tracks one multi-device group ring, per §3.
type Ring struct {
	GroupId      string
	RingId       int64
	RingerUserId UserId
	Deadline     time.Time
}

// GroupCallClientId is an opaque handle identifying one join.
type GroupCallClientId uint64

// DemuxId is the SFU-assigned identifier for a device within a group call.
type DemuxId uint32

// RemoteDevice is one other participant's state as seen by a group-call
// client.
type RemoteDevice struct {
	DemuxId               DemuxId
	UserId                *UserId // absent until decrypted membership info arrives
	MediaKeyReceived      bool
	AudioMuted            *bool
	VideoMuted            *bool
	Presenting            *bool
	SharingScreen         *bool
	AddedTimeMs           int64
	SpeakerTimeMs         int64
	ForwardingVideo       *bool
	AudioLevel            uint16
	HigherResolutionPending bool
}

// MediaKey is one generation of a group call's SRTP key material.
type MediaKey struct {
	RatchetCounter uint32
	Secret         []byte
	DemuxId        DemuxId
}

// Zeroize overwrites the secret in place, per §4.5 ("outbound MediaKey state
// is zeroized before the client is destroyed").
func (k *MediaKey) Zeroize() {
	for i := range k.Secret {
		k.Secret[i] = 0
	}
}

// PeekInfo is a point-in-time snapshot of a group call's membership.
type PeekInfo struct {
	EraId          *string
	CreatorUserId  *UserId
	MaxDevices     *uint32
	Devices        []PeekDevice
	PendingUsers   []UserId
	CallLinkState  *CallLinkState
}

// PeekDevice is one entry of PeekInfo.Devices.
type PeekDevice struct {
	DemuxId DemuxId
	UserId  *UserId
}

// CallLinkRestriction controls who may join via a call link.
type CallLinkRestriction int

const (
	RestrictionNone CallLinkRestriction = iota
	RestrictionAdminApproval
	RestrictionUnknown
)

// CallLinkState is the server-side state of one call link room.
type CallLinkState struct {
	Name         string
	Restrictions CallLinkRestriction
	Revoked      bool
	Expiration   time.Time
}

// CallHistoryRecord is emitted alongside onCallEnded so an embedder can
// persist call history without re-deriving it from the raw event stream.
type CallHistoryRecord struct {
	RemoteUserId UserId
	CallKind     CallKind
	MediaKind    MediaKind
	EndedReason  EndedReason
	AgeSec       int64
	OccurredAt   time.Time
}

// GroupEndReason is why a group-call client ended, per §4.5.
type GroupEndReason int

const (
	GroupEndDeviceExplicitlyDisconnected GroupEndReason = iota
	GroupEndServerExplicitlyDisconnected
	GroupEndDeniedRequestToJoinCall
	GroupEndRemovedFromCall
	GroupEndCallManagerIsBusy
	GroupEndSfuClientFailedToJoin
	GroupEndFailedToCreatePeerConnection
	GroupEndFailedToNegotiateSrtpKeys
	GroupEndIceFailedWhileConnecting
	GroupEndIceFailedAfterConnected
	GroupEndServerChangedDemuxId
	GroupEndHasMaxDevices
)

func (r GroupEndReason) String() string {
	switch r {
	case GroupEndDeviceExplicitlyDisconnected:
		return "DeviceExplicitlyDisconnected"
	case GroupEndServerExplicitlyDisconnected:
		return "ServerExplicitlyDisconnected"
	case GroupEndDeniedRequestToJoinCall:
		return "DeniedRequestToJoinCall"
	case GroupEndRemovedFromCall:
		return "RemovedFromCall"
	case GroupEndCallManagerIsBusy:
		return "CallManagerIsBusy"
	case GroupEndSfuClientFailedToJoin:
		return "SfuClientFailedToJoin"
	case GroupEndFailedToCreatePeerConnection:
		return "FailedToCreatePeerConnection"
	case GroupEndFailedToNegotiateSrtpKeys:
		return "FailedToNegotiateSrtpKeys"
	case GroupEndIceFailedWhileConnecting:
		return "IceFailedWhileConnecting"
	case GroupEndIceFailedAfterConnected:
		return "IceFailedAfterConnected"
	case GroupEndServerChangedDemuxId:
		return "ServerChangedDemuxId"
	case GroupEndHasMaxDevices:
		return "HasMaxDevices"
	default:
		return "Unknown"
	}
}

// ConnectionState is a group-call client's SFU connection state, per §4.5.
type ConnectionState int

const (
	ConnNotConnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
)

// JoinState is a group-call client's membership state, per §4.5.
type JoinState int

const (
	JoinNotJoined JoinState = iota
	JoinJoining
	JoinPending
	JoinJoined
)
