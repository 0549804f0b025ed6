package util

import (
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKD form of s so that visually identical
// passwords typed on different keyboards derive the same key.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// RuneLen counts code points, which is how password length is measured.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// HexDecode parses configured key material.
func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
