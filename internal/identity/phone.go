package identity

import (
	"strings"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
)

const brazilCountryCode = "55"

// Normalize reduces a phone number to digits for identity comparison.
// Brazilian mobile numbers are reported both with and without the ninth
// digit, so the 13-digit form 55 DD 9XXXXXXXX is folded to 55 DD XXXXXXXX.
func Normalize(phone string) string {
	d := inbound.DigitsOnly(phone)
	if strings.HasPrefix(d, brazilCountryCode) && len(d) == 13 && d[4] == '9' {
		return d[:4] + d[5:]
	}
	return d
}
