// Package fakemedia builds synthetic SDP bodies and RTP/RTCP packets for
// exercising the signaling and media plumbing (C1/C9) in tests, without
// spinning up a real pion/webrtc PeerConnection. It is a "fake media
// engine test double" for tests that need an opaque offer/answer body or a
// keyframe request that looks like the real thing but carries no actual
// media; only this package's own tests use it.
package fakemedia

import (
	"errors"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

// errNoPLI is returned by DecodePLI when the RTCP compound packet carries no
// PictureLossIndication.
var errNoPLI = errors.New("fakemedia: no PictureLossIndication in packet")

// sessionDescription is the shared shape BuildOfferSDP/BuildAnswerSDP fill
// in; both offer and answer look identical at this level of fidelity since
// the module never actually interprets the SDP it carries as opaque bytes.
func sessionDescription(sessionID uint64, addr string, port int) *sdp.SessionDescription {
	return &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "ringrtc",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "ringrtc test call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
					Formats: []string{"111"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "111 opus/48000/2"},
					{Key: "sendrecv"},
				},
			},
		},
	}
}

// BuildOfferSDP synthesizes a minimal, valid SDP offer body — good enough to
// carry as a wire.Offer.Opaque payload in tests that exercise the codec and
// the direct-call state machine without a real peer connection behind them.
func BuildOfferSDP(sessionID uint64, addr string, port int) ([]byte, error) {
	return sessionDescription(sessionID, addr, port).Marshal()
}

// BuildAnswerSDP mirrors BuildOfferSDP for the answering side.
func BuildAnswerSDP(sessionID uint64, addr string, port int) ([]byte, error) {
	return sessionDescription(sessionID, addr, port).Marshal()
}

// ParseSDP parses an opaque body produced by BuildOfferSDP/BuildAnswerSDP,
// letting a test assert on the fields it actually cares about (the session
// address, the negotiated payload type) instead of string-matching bytes.
func ParseSDP(opaque []byte) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(opaque); err != nil {
		return nil, err
	}
	return desc, nil
}

// SynthesizeRTPPacket builds a single RTP packet carrying a silence-filler
// payload, standing in for pion/webrtc's own packetizer when a test needs
// something to hand to a fake track.
func SynthesizeRTPPacket(seq uint16, timestamp, ssrc uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: []byte{0xf8, 0xff, 0xfe}, // Opus DTX-style filler, not decodable audio
	}
}

// EncodePLI builds a Picture Loss Indication RTCP packet (a keyframe
// request). The group-call client does not send PLIs itself.
func EncodePLI(mediaSSRC uint32) ([]byte, error) {
	return (&rtcp.PictureLossIndication{MediaSSRC: mediaSSRC}).Marshal()
}

// DecodePLI is EncodePLI's inverse, used by tests asserting a keyframe
// request went out.
func DecodePLI(b []byte) (*rtcp.PictureLossIndication, error) {
	pkts, err := rtcp.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	for _, p := range pkts {
		if pli, ok := p.(*rtcp.PictureLossIndication); ok {
			return pli, nil
		}
	}
	return nil, errNoPLI
}
