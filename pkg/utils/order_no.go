package utils

import (
	"time"

	"custody.backend/pkg/crypto"
)

// Order number prefixes
const (
	PrefixCharge   = "charge"
	PrefixWithdraw = "with"
	PrefixPool     = "red"
)

const orderNoLetters = "abcdefghijklmnopqrstuvwxyz"

var randomLetters = crypto.RandomString

// NewOrderNo returns <prefix>_YYYYMMDDHHMM followed by 4 random lowercase
// letters. The timestamp is rendered in UTC.
func NewOrderNo(prefix string, now time.Time) string {
	suffix, err := randomLetters(4, orderNoLetters)
	if err != nil {
		suffix = clockLetters(4, now)
	}
	return prefix + "_" + now.UTC().Format("200601021504") + suffix
}

// clockLetters derives letters from the nanosecond clock when the system
// random source fails.
func clockLetters(n int, now time.Time) string {
	v := now.UnixNano()
	if v < 0 {
		v = -v
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = orderNoLetters[v%int64(len(orderNoLetters))]
		v /= int64(len(orderNoLetters))
	}
	return string(out)
}
