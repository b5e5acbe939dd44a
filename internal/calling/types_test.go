package calling

import "testing"

func TestDirectCallStateTransitions(t *testing.T) {
	cases := []struct {
		from, to DirectCallState
		want     bool
	}{
		{StateNotYetStarted, StateWaitingToProceed, true},
		{StateNotYetStarted, StateConnected, false},
		{StateWaitingToProceed, StateConnectingBeforeAccepted, true},
		{StateWaitingToProceed, StateTerminating, true},
		{StateConnectingBeforeAccepted, StateConnectingBeforeAccepted, true},
		{StateConnectingBeforeAccepted, StateConnectingAfterAccepted, true},
		{StateConnected, StateReconnecting, true},
		{StateReconnecting, StateConnected, true},
		{StateReconnecting, StateConnectingBeforeAccepted, false},
		{StateTerminated, StateWaitingToProceed, false},
		{StateTerminating, StateTerminated, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestResolveGlare(t *testing.T) {
	if got := ResolveGlare(100, 50); got != GlareWinner {
		t.Errorf("100 vs 50: got %v, want Winner", got)
	}
	if got := ResolveGlare(50, 100); got != GlareLoser {
		t.Errorf("50 vs 100: got %v, want Loser", got)
	}
	if got := ResolveGlare(50, 50); got != GlareEqual {
		t.Errorf("50 vs 50: got %v, want Equal", got)
	}
}

func TestMediaKeyZeroize(t *testing.T) {
	k := MediaKey{Secret: []byte{1, 2, 3, 4}}
	k.Zeroize()
	for i, b := range k.Secret {
		if b != 0 {
			t.Fatalf("byte %d not zeroized: %v", i, k.Secret)
		}
	}
}
