package router

import (
	"strings"

	"github.com/pkg/errors"
)

// NormalizePhone reduces a phone number to bare E.164 digits. The country
// code must be included; "+55 (48) 99999-0000" becomes "5548999990000".
// Numbers outside 10-15 digits are rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return "", errors.Errorf("invalid phone number: %q", raw)
	}
	return digits, nil
}
