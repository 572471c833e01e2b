package upstream

import (
	"testing"

	"perp-gateway/internal/gatewayerr"
)

func TestClassifyMessageMatchesKnownPatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		kind gatewayerr.Kind
	}{
		{"Order rejected: price deviates too far from oracle", gatewayerr.KindPriceDeviation},
		{"invalid price for asset", gatewayerr.KindInvalidPrice},
		{"price not divisible by tick size", gatewayerr.KindInvalidPrice},
		{"order too large for this account tier", gatewayerr.KindOrderTooLarge},
		{"insufficient balance for order", gatewayerr.KindInsufficientBalance},
		{"insufficient margin to open position", gatewayerr.KindInsufficientBalance},
	}
	for _, c := range cases {
		kind, mapped, ok := ClassifyMessage(c.raw)
		if !ok {
			t.Errorf("ClassifyMessage(%q): expected a match", c.raw)
			continue
		}
		if kind != c.kind {
			t.Errorf("ClassifyMessage(%q) kind = %s, want %s", c.raw, kind, c.kind)
		}
		if mapped == "" {
			t.Errorf("ClassifyMessage(%q): expected a non-empty mapped message", c.raw)
		}
	}
}

func TestClassifyMessageNoMatch(t *testing.T) {
	t.Parallel()

	_, _, ok := ClassifyMessage("some unrecognized upstream failure")
	if ok {
		t.Error("expected no match for an unrecognized message")
	}
}

func TestMapMessageReturnsEmptyStringForNoMatch(t *testing.T) {
	t.Parallel()

	if got := MapMessage("totally unknown error"); got != "" {
		t.Errorf("MapMessage = %q, want empty string", got)
	}
}
