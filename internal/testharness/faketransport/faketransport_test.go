package faketransport

import (
	"testing"
	"time"

	"github.com/sebas/ringrtc/internal/wire"
)

func TestRelayForwardsWireEncodedOfferToNamedPeer(t *testing.T) {
	relay := NewRelay()
	defer relay.Close()

	aliceConn, err := Dial(relay.URL(), "alice", "bob")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer aliceConn.Close()

	bobConn, err := Dial(relay.URL(), "bob", "alice")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bobConn.Close()

	time.Sleep(20 * time.Millisecond) // let both registrations land before the first send

	encoded := wire.Encode(wire.Message{
		Offer: &wire.Offer{CallId: 7, Type: wire.OfferAudio, Opaque: []byte("sdp-body")},
	})
	if err := aliceConn.WriteMessage(2, encoded); err != nil { // 2 == websocket.BinaryMessage
		t.Fatalf("write: %v", err)
	}

	bobConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := bobConn.ReadMessage()
	if err != nil {
		t.Fatalf("bob read: %v", err)
	}

	msg, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Offer == nil || msg.Offer.CallId != 7 || string(msg.Offer.Opaque) != "sdp-body" {
		t.Fatalf("unexpected decoded offer: %+v", msg.Offer)
	}
}
