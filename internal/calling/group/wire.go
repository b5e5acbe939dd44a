package group

import (
	"encoding/json"

	"github.com/sebas/ringrtc/internal/calling"
)

// The group-call in-band control messages (video requests, admin actions,
// raised hands, reactions) are carried as MRP content per §4.2/§6; unlike
// C1's direct-call signaling envelope, their exact tag-delimited wire shape
// is an SFU-side implementation detail the embedder never parses, so a
// plain JSON envelope is enough to exercise the MRP framing honestly.

type videoRequestWire struct {
	Requests            []videoRequestEntryWire `json:"requests"`
	ActiveSpeakerHeight uint32                  `json:"activeSpeakerHeight"`
}

type videoRequestEntryWire struct {
	DemuxId   calling.DemuxId `json:"demuxId"`
	Width     uint32          `json:"width"`
	Height    uint32          `json:"height"`
	Framerate *uint32         `json:"framerate,omitempty"`
}

func encodeVideoRequest(requests map[calling.DemuxId]VideoRequestSpec, activeSpeakerHeight uint32) []byte {
	w := videoRequestWire{ActiveSpeakerHeight: activeSpeakerHeight}
	for demuxID, spec := range requests {
		w.Requests = append(w.Requests, videoRequestEntryWire{
			DemuxId:   demuxID,
			Width:     spec.Width,
			Height:    spec.Height,
			Framerate: spec.Framerate,
		})
	}
	b, _ := json.Marshal(w)
	return b
}

type adminActionWire struct {
	Action        AdminAction     `json:"action"`
	TargetDemuxId calling.DemuxId `json:"targetDemuxId"`
}

func encodeAdminAction(action AdminAction, targetDemuxID calling.DemuxId) []byte {
	b, _ := json.Marshal(adminActionWire{Action: action, TargetDemuxId: targetDemuxID})
	return b
}

type raiseHandWire struct {
	Raised bool   `json:"raised"`
	Seqnum uint64 `json:"seqnum"`
}

func encodeRaiseHand(raised bool, seqnum uint64) []byte {
	b, _ := json.Marshal(raiseHandWire{Raised: raised, Seqnum: seqnum})
	return b
}

type reactionWire struct {
	Value string `json:"value"`
}

func encodeReaction(value string) []byte {
	b, _ := json.Marshal(reactionWire{Value: value})
	return b
}
