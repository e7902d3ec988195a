package kepco

import "testing"

func TestTelegramRoundTrips(t *testing.T) {
	raw := buildTelegram(3, opAssert)
	ch, op, err := verifyTelegram(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ch != 3 || op != opAssert {
		t.Fatalf("got channel=%d op=%d, want channel=3 op=assert", ch, op)
	}
}

func TestTelegramDetectsCorruption(t *testing.T) {
	raw := buildTelegram(1, opDeassert)
	raw[1] ^= 0xFF // corrupt the channel byte after framing
	if _, _, err := verifyTelegram(raw); err == nil {
		t.Fatal("expected CRC mismatch to be detected")
	}
}
