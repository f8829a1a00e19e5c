// Package jid canonicalizes chat and participant identifiers. A raw
// identifier may carry a device discriminator ("user:12@server") left over
// from multi-device sessions; two such variants refer to the same logical
// participant and must collapse to the same canonical form.
package jid

import (
	"strconv"
	"strings"
)

// Well-known server suffixes.
const (
	DefaultServer   = "s.whatsapp.net"
	GroupServer     = "g.us"
	BroadcastServer = "broadcast"
)

// StatusBroadcast is the status feed pseudo-chat. It is excluded from
// history caching.
const StatusBroadcast = "status@broadcast"

// Kind classifies an identifier.
type Kind int

const (
	Individual Kind = iota
	Group
	Broadcast
)

// JID is a decoded identifier.
type JID struct {
	User   string
	Server string
	Device uint16
}

// Parse decodes raw into a JID. ok is false when raw has no "@server" part.
func Parse(raw string) (j JID, ok bool) {
	raw = strings.TrimSpace(raw)
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return JID{}, false
	}
	j.Server = raw[at+1:]
	user := raw[:at]
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		dev, err := strconv.ParseUint(user[colon+1:], 10, 16)
		if err != nil {
			// Not a numeric device suffix, leave the user part intact.
			j.User = user
			return j, true
		}
		j.Device = uint16(dev)
		user = user[:colon]
	}
	j.User = user
	return j, true
}

// String renders the canonical form, always without the device suffix.
func (j JID) String() string {
	if j.User == "" && j.Server == "" {
		return ""
	}
	return j.User + "@" + j.Server
}

// Kind reports what the identifier refers to, derived from its server part.
func (j JID) Kind() Kind {
	switch j.Server {
	case GroupServer:
		return Group
	case BroadcastServer:
		return Broadcast
	default:
		return Individual
	}
}

// Canonicalize collapses a device-qualified identifier to user@server and
// trims anything else. It is idempotent and never fails: input it cannot
// improve comes back trimmed as-is.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if !hasDeviceSuffix(raw) {
		return raw
	}
	j, ok := Parse(raw)
	if !ok || j.User == "" || j.Server == "" {
		return raw
	}
	return j.String()
}

// hasDeviceSuffix reports whether raw looks like "user:N@server".
func hasDeviceSuffix(raw string) bool {
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return false
	}
	at := strings.IndexByte(raw[colon:], '@')
	if at < 0 {
		return false
	}
	digits := raw[colon+1 : colon+at]
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// IsGroup reports whether the canonical identifier names a group chat.
func IsGroup(id string) bool {
	return strings.HasSuffix(id, "@"+GroupServer)
}

// IsBroadcast reports whether the identifier is a broadcast list, including
// the status feed.
func IsBroadcast(id string) bool {
	return strings.HasSuffix(id, "@"+BroadcastServer)
}

// SameUser reports whether two identifiers refer to the same logical user,
// ignoring device suffixes.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Canonicalize(a) == Canonicalize(b)
}
