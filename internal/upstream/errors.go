package upstream

import (
	"strings"

	"perp-gateway/internal/gatewayerr"
)

// substringMappings maps a lower-cased substring found in a raw upstream
// error message to a stable, user-readable message and the gateway error
// kind it represents. Order matters: the first match wins.
var substringMappings = []struct {
	substring string
	kind      gatewayerr.Kind
	mapped    string
}{
	{"price deviat", gatewayerr.KindPriceDeviation, "Order price is too far from the current market price"},
	{"invalid price", gatewayerr.KindInvalidPrice, "The submitted price is invalid for this symbol"},
	{"tick", gatewayerr.KindInvalidPrice, "The submitted price is invalid for this symbol"},
	{"order too large", gatewayerr.KindOrderTooLarge, "Order size exceeds the maximum allowed for this symbol"},
	{"too large", gatewayerr.KindOrderTooLarge, "Order size exceeds the maximum allowed for this symbol"},
	{"insufficient balance", gatewayerr.KindInsufficientBalance, "Account balance is insufficient for this order"},
	{"insufficient margin", gatewayerr.KindInsufficientBalance, "Account balance is insufficient for this order"},
}

// MapMessage returns the stable, user-readable remap for a raw upstream
// error message, or "" if no pattern matched (meaning the original message
// passes through unmapped).
func MapMessage(raw string) string {
	_, mapped, _ := ClassifyMessage(raw)
	return mapped
}

// ClassifyMessage matches raw against the substring table, returning the
// gateway error kind and stable message for the first match. matched is
// false when raw carries no recognized pattern, in which case callers
// should fall back to gatewayerr.KindUpstream with the passthrough text.
func ClassifyMessage(raw string) (kind gatewayerr.Kind, mapped string, matched bool) {
	lower := strings.ToLower(raw)
	for _, m := range substringMappings {
		if strings.Contains(lower, m.substring) {
			return m.kind, m.mapped, true
		}
	}
	return "", "", false
}
