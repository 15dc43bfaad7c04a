// Package token decodes the metro service credential.
//
// A credential is standard base64 of a comma separated record whose second
// field is the expiry as a millisecond epoch. Decoding never fails loudly: any
// malformed credential reads as already expired.
package token

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Expired is returned by Decode for credentials that cannot be read.
const Expired int64 = -1

// Decode returns the credential's expiry in epoch seconds, or Expired.
func Decode(tok string) int64 {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tok))
	if err != nil {
		return Expired
	}
	parts := strings.Split(string(raw), ",")
	if len(parts) < 2 {
		return Expired
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || ms < 0 {
		return Expired
	}
	return ms / 1000
}

// ExpiresAt is Decode as a time. Unreadable credentials map to the Unix epoch.
func ExpiresAt(tok string) time.Time {
	sec := Decode(tok)
	if sec < 0 {
		return time.Unix(0, 0)
	}
	return time.Unix(sec, 0)
}

// IsValid reports whether tok is still valid at now.
func IsValid(tok string, now time.Time) bool {
	return Decode(tok) > now.Unix()
}

// Remaining is how long tok stays valid after now; negative once expired.
func Remaining(tok string, now time.Time) time.Duration {
	return time.Duration(Decode(tok)-now.Unix()) * time.Second
}

// Encode builds a credential that expires at exp. The id part is arbitrary.
// Used by tooling and tests.
func Encode(id string, exp time.Time) string {
	rec := id + "," + strconv.FormatInt(exp.UnixMilli(), 10) + ",sig"
	return base64.StdEncoding.EncodeToString([]byte(rec))
}
