package security

import "strings"

const (
	// DefaultVisibleSuffix is how many trailing characters Mask keeps.
	DefaultVisibleSuffix = 4

	maskChar  = "*"
	shortMask = "****"
)

// Mask hides all but the last visibleSuffix characters of value. Values no
// longer than visibleSuffix collapse to a fixed token so their length is not
// revealed.
func Mask(value string, visibleSuffix int) string {
	if visibleSuffix < 0 {
		visibleSuffix = 0
	}
	runes := []rune(value)
	if len(runes) <= visibleSuffix {
		return shortMask
	}
	hidden := len(runes) - visibleSuffix
	return strings.Repeat(maskChar, hidden) + string(runes[hidden:])
}

// MaskAccount masks a bank account identifier for logs and audit payloads.
func MaskAccount(account string) string {
	return Mask(account, DefaultVisibleSuffix)
}
