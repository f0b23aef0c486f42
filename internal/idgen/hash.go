// Package idgen generates the opaque identifiers used throughout the
// coordination engine: message ids, thread ids, and the base36 encoding
// they're built from.
package idgen

import (
	"math/big"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length,
// left-padding with zeros or truncating to the least significant digits as
// needed. Matches the algorithm used for bd's own hash ids.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// EncodeBase36Int encodes a non-negative integer to base36 with no padding.
func EncodeBase36Int(n int64) string {
	if n == 0 {
		return "0"
	}
	var chars []byte
	for n > 0 {
		chars = append(chars, base36Alphabet[n%36])
		n /= 36
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars)
}
