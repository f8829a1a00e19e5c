// Package envelope normalizes raw protocol message events into a queryable
// message model. A raw event is the JSON document emitted by the underlying
// messaging library; Wrap parses it once into an immutable Envelope whose
// derived fields (chat, sender, payload kind, text) are computed by pure
// functions rather than injected onto the protocol object.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wabot/internal/domain"
	"wabot/internal/jid"
)

// Kind is the normalized payload classification.
type Kind string

const (
	KindText            Kind = "text"
	KindImage           Kind = "image"
	KindVideo           Kind = "video"
	KindAudio           Kind = "audio"
	KindSticker         Kind = "sticker"
	KindDocument        Kind = "document"
	KindContact         Kind = "contact"
	KindPoll            Kind = "poll"
	KindLocationRequest Kind = "locationRequest"
	KindProtocolControl Kind = "protocolControl"
	KindUnknown         Kind = "unknown"
)

// Wrapper payload keys carry metadata only. Real-world events often prepend
// them, which is why kind resolution cannot take the first key blindly.
const (
	keySenderKeyDistribution = "senderKeyDistributionMessage"
	keyMessageContextInfo    = "messageContextInfo"
)

var kindByKey = map[string]Kind{
	"conversation":         KindText,
	"extendedTextMessage":  KindText,
	"imageMessage":         KindImage,
	"videoMessage":         KindVideo,
	"audioMessage":         KindAudio,
	"stickerMessage":       KindSticker,
	"documentMessage":      KindDocument,
	"contactMessage":       KindContact,
	"contactsArrayMessage": KindContact,
	"pollCreationMessage":  KindPoll,
	"locationMessage":      KindLocationRequest,
	"liveLocationMessage":  KindLocationRequest,
	"protocolMessage":      KindProtocolControl,
}

// mediaKinds are the payload kinds that carry downloadable media.
var mediaKinds = map[Kind]bool{
	KindImage:    true,
	KindVideo:    true,
	KindAudio:    true,
	KindSticker:  true,
	KindDocument: true,
}

// rawEvent mirrors the protocol event shape. The message body is kept raw so
// its key order survives decoding.
type rawEvent struct {
	Key struct {
		RemoteJID   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id"`
		Participant string `json:"participant"`
	} `json:"key"`
	Message          json.RawMessage `json:"message"`
	PushName         string          `json:"pushName"`
	Participant      string          `json:"participant"`
	MessageTimestamp flexInt64       `json:"messageTimestamp"`
}

// flexInt64 decodes from a JSON number or a numeric string; the transport
// emits both depending on session age.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil // tolerate junk, leave zero
		}
		*f = flexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// part is the decoded body of one payload entry. A bare "conversation"
// payload is a JSON string and is normalized into Text.
type part struct {
	Text                string          `json:"text"`
	Caption             string          `json:"caption"`
	ContentText         string          `json:"contentText"`
	SelectedDisplayText string          `json:"selectedDisplayText"`
	URL                 string          `json:"url"`
	DirectPath          string          `json:"directPath"`
	Mimetype            string          `json:"mimetype"`
	FileName            string          `json:"fileName"`
	GroupID             string          `json:"groupId"`
	ContextInfo         *ContextInfo    `json:"contextInfo"`
	raw                 json.RawMessage `json:"-"`
}

// ContextInfo is the reply metadata attached to a payload.
type ContextInfo struct {
	StanzaID      string          `json:"stanzaId"`
	Participant   string          `json:"participant"`
	RemoteJID     string          `json:"remoteJid"`
	MentionedJID  []string        `json:"mentionedJid"`
	QuotedMessage json.RawMessage `json:"quotedMessage"`
}

// payload is the ordered set of entries found under "message".
type payload struct {
	keys  []string
	parts map[string]part
}

// Envelope is the normalized view over one inbound or reconstructed message.
// It is immutable after Wrap.
type Envelope struct {
	Key       domain.MessageKey
	PushName  string
	Timestamp time.Time

	payload payload
	kind    string // resolved payload key, fixed at construction
	selfID  string // canonical jid of the running session, may be empty
}

// Wrap parses one raw protocol event. selfID is the session's own canonical
// jid, used to derive FromMe and the sender of self-authored messages; it may
// be empty. Wrap performs no I/O and does not touch any cache.
func Wrap(raw []byte, selfID string) (*Envelope, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.Key.ID == "" && ev.Message == nil {
		return nil, fmt.Errorf("parse event: no key and no message")
	}

	p, err := parsePayload(ev.Message)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	e := &Envelope{
		Key: domain.MessageKey{
			ChatID:      jid.Canonicalize(ev.Key.RemoteJID),
			ID:          ev.Key.ID,
			FromMe:      ev.Key.FromMe,
			Participant: jid.Canonicalize(firstNonEmpty(ev.Participant, ev.Key.Participant)),
		},
		PushName: ev.PushName,
		payload:  p,
		selfID:   jid.Canonicalize(selfID),
	}
	if ev.MessageTimestamp != 0 {
		e.Timestamp = time.Unix(int64(ev.MessageTimestamp), 0)
	}
	e.kind = resolveKindKey(p.keys)
	return e, nil
}

// parsePayload decodes the message body, preserving the order its keys
// appeared on the wire.
func parsePayload(raw json.RawMessage) (payload, error) {
	p := payload{parts: map[string]part{}}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	keys, values, err := orderedObject(raw)
	if err != nil {
		return p, err
	}
	p.keys = keys
	for i, k := range keys {
		p.parts[k] = decodePart(values[i])
	}
	return p, nil
}

// decodePart tolerates both object-shaped entries and the bare string form
// used by plain-conversation payloads.
func decodePart(raw json.RawMessage) part {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		_ = json.Unmarshal(trimmed, &s)
		return part{Text: s, raw: raw}
	}
	var pt part
	_ = json.Unmarshal(trimmed, &pt) // malformed entries degrade to zero part
	pt.raw = raw
	return pt
}

// resolveKindKey applies the fixed precedence rule over the ordered key set:
// take the first key unless it is a wrapper kind; else the second when there
// are at least three keys and the second is not the context-info wrapper;
// else the last key.
func resolveKindKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	if keys[0] != keySenderKeyDistribution && keys[0] != keyMessageContextInfo {
		return keys[0]
	}
	if len(keys) >= 3 && keys[1] != keyMessageContextInfo {
		return keys[1]
	}
	return keys[len(keys)-1]
}

// KindKey returns the resolved raw payload key, e.g. "imageMessage".
func (e *Envelope) KindKey() string { return e.kind }

// Kind returns the normalized payload classification.
func (e *Envelope) Kind() Kind {
	if e.kind == "" {
		return KindUnknown
	}
	if k, ok := kindByKey[e.kind]; ok {
		return k
	}
	return KindUnknown
}

// msg returns the resolved payload entry.
func (e *Envelope) msg() part { return e.payload.parts[e.kind] }

// ChatID returns the canonical conversation identifier. Wrapper-only events
// fall back to the sender-key distribution group id.
func (e *Envelope) ChatID() string {
	if e.Key.ChatID != "" {
		return e.Key.ChatID
	}
	if skd, ok := e.payload.parts[keySenderKeyDistribution]; ok && skd.GroupID != "" {
		return jid.Canonicalize(skd.GroupID)
	}
	return ""
}

// IsGroup reports whether the message belongs to a group chat.
func (e *Envelope) IsGroup() bool { return jid.IsGroup(e.ChatID()) }

// SenderID returns the canonical author identifier.
func (e *Envelope) SenderID() string {
	if e.Key.FromMe && e.selfID != "" {
		return e.selfID
	}
	if e.Key.Participant != "" {
		return e.Key.Participant
	}
	return e.ChatID()
}

// FromSelf reports whether the session itself authored the message.
func (e *Envelope) FromSelf() bool {
	return e.Key.FromMe || (e.selfID != "" && jid.SameUser(e.selfID, e.SenderID()))
}

// Text returns the message text: primary text, then caption, then content
// text, then selected display text, then empty.
func (e *Envelope) Text() string {
	m := e.msg()
	return firstNonEmpty(m.Text, m.Caption, m.ContentText, m.SelectedDisplayText)
}

// MentionedIDs returns canonicalized mentioned identifiers, empty when none.
func (e *Envelope) MentionedIDs() []string {
	ci := e.Context()
	if ci == nil || len(ci.MentionedJID) == 0 {
		return nil
	}
	out := make([]string, 0, len(ci.MentionedJID))
	for _, m := range ci.MentionedJID {
		out = append(out, jid.Canonicalize(m))
	}
	return out
}

// Context returns the reply metadata attached to the resolved payload, or
// nil when the message is not a reply.
func (e *Envelope) Context() *ContextInfo { return e.msg().ContextInfo }

// MediaInfo describes the media carried by an envelope.
type MediaInfo struct {
	Kind       Kind
	KindKey    string
	URL        string
	DirectPath string
	Mimetype   string
	FileName   string
}

// Media returns a non-nil MediaInfo when the resolved kind is a media kind.
// A payload carrying a raw upload locator counts as media even when wrapped
// oddly.
func (e *Envelope) Media() *MediaInfo {
	if k := e.Kind(); mediaKinds[k] {
		m := e.msg()
		return &MediaInfo{Kind: k, KindKey: e.kind, URL: m.URL, DirectPath: m.DirectPath, Mimetype: m.Mimetype, FileName: m.FileName}
	}
	// Kind resolution landed elsewhere, but a media entry with an upload
	// locator may still be present under odd wrapping.
	for _, key := range e.payload.keys {
		pk, ok := kindByKey[key]
		if !ok || !mediaKinds[pk] {
			continue
		}
		if mm := e.payload.parts[key]; mm.URL != "" || mm.DirectPath != "" {
			return &MediaInfo{Kind: pk, KindKey: key, URL: mm.URL, DirectPath: mm.DirectPath, Mimetype: mm.Mimetype, FileName: mm.FileName}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
