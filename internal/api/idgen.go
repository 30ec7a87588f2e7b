package api

import (
	"crypto/rand"
)

// idAlphabet is URL-safe and excludes visually ambiguous characters (0/O,
// 1/l/I).
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// newOpaqueID mints a 10-character opaque identifier for VODs and upload
// leases (spec.md §3: "Short opaque id (10-char URL-safe)").
func newOpaqueID() string {
	const length = 10
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("api: read random bytes: " + err.Error())
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}
