// Package platform defines the capability interface the embedder
// implements (C8): a single fixed set of required methods carrying typed
// event arguments, rather than many optional delegate callbacks, so the
// compiler enforces exhaustiveness (§9 redesign note).
package platform

import (
	"github.com/sebas/ringrtc/internal/calling"
)

// GroupCallRingUpdate is the update kind of onGroupCallRingUpdate, per §6.
type GroupCallRingUpdate int

const (
	RingRequested GroupCallRingUpdate = iota
	RingExpiredRequest
	RingAcceptedOnAnotherDevice
	RingDeclinedOnAnotherDevice
	RingBusyLocally
	RingBusyOnAnotherDevice
	RingCancelledByRinger
)

// HttpMethod is the verb of an outbound HTTP request issued through the
// request registry (C7).
type HttpMethod int

const (
	HttpGet HttpMethod = iota
	HttpPost
	HttpPut
	HttpDelete
)

// Urgency qualifies an application data-channel call message.
type Urgency int

const (
	UrgencyDroppable Urgency = iota
	UrgencyHandleImmediately
)

// Observer is the full embedder capability surface (core → host). Every
// method must be implemented; there are no optional hooks.
type Observer interface {
	// Direct-call lifecycle.
	StartOutgoingCall(callID calling.CallId, remoteUserID calling.UserId)
	StartIncomingCall(callID calling.CallId, remoteUserID calling.UserId, isVideo bool)
	OnCallState(callID calling.CallId, state calling.DirectCallState)
	OnCallEnded(callID calling.CallId, reason calling.EndedReason, ageSec int64, history calling.CallHistoryRecord)

	// Signaling delivery. The embedder must reliably deliver msg and report
	// the outcome back via SignalingMessageSent/SignalingMessageSendFailed.
	SendSignaling(remoteUserID calling.UserId, destinationDeviceID *calling.DeviceId, msg []byte, broadcast bool) (attemptID uint64)

	// HTTP request/response bridge for C6/C7.
	SendHttpRequest(requestID uint64, url string, method HttpMethod, headers map[string]string, body []byte)

	// Application data-channel messages, outside the calling signaling path.
	SendCallMessage(recipientUserID calling.UserId, body []byte, urgency Urgency)
	SendCallMessageToGroup(groupID string, body []byte, urgency Urgency, overrideRecipients []calling.UserId)

	// Telemetry and routing observability.
	OnNetworkRouteChanged(callID calling.CallId, description string)
	OnAudioLevels(callID calling.CallId, capturedLevel, receivedLevel uint16)

	// Group-call ring fan-out notifications.
	OnGroupCallRingUpdate(groupID string, ringID int64, sender calling.UserId, update GroupCallRingUpdate)
}
