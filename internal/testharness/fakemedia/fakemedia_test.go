package fakemedia

import "testing"

func TestBuildAndParseOfferRoundTrips(t *testing.T) {
	opaque, err := BuildOfferSDP(42, "203.0.113.9", 16000)
	if err != nil {
		t.Fatalf("BuildOfferSDP: %v", err)
	}

	desc, err := ParseSDP(opaque)
	if err != nil {
		t.Fatalf("ParseSDP: %v", err)
	}
	if desc.Origin.UnicastAddress != "203.0.113.9" {
		t.Errorf("UnicastAddress = %q, want 203.0.113.9", desc.Origin.UnicastAddress)
	}
	if len(desc.MediaDescriptions) != 1 || desc.MediaDescriptions[0].MediaName.Port.Value != 16000 {
		t.Fatalf("unexpected media descriptions: %+v", desc.MediaDescriptions)
	}
}

func TestSynthesizeRTPPacketCarriesExpectedHeader(t *testing.T) {
	pkt := SynthesizeRTPPacket(7, 12345, 0xabcdef)
	if pkt.SequenceNumber != 7 || pkt.Timestamp != 12345 || pkt.SSRC != 0xabcdef {
		t.Fatalf("unexpected header: %+v", pkt.Header)
	}
	if pkt.PayloadType != 111 {
		t.Errorf("PayloadType = %d, want 111", pkt.PayloadType)
	}
}

func TestEncodeDecodePLIRoundTrips(t *testing.T) {
	b, err := EncodePLI(0x1234)
	if err != nil {
		t.Fatalf("EncodePLI: %v", err)
	}
	pli, err := DecodePLI(b)
	if err != nil {
		t.Fatalf("DecodePLI: %v", err)
	}
	if pli.MediaSSRC != 0x1234 {
		t.Errorf("MediaSSRC = %d, want 0x1234", pli.MediaSSRC)
	}
}

func TestDecodePLIRejectsUnrelatedPacket(t *testing.T) {
	if _, err := DecodePLI([]byte("not rtcp")); err == nil {
		t.Fatal("expected an error decoding garbage bytes")
	}
}
