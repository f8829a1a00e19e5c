package envelope

import (
	"wabot/internal/domain"
	"wabot/internal/jid"
)

// Quoted reconstructs the replied-to message from the embedded context info.
// It returns nil when the envelope carries no reply context. A malformed
// quoted payload yields a minimal envelope with empty text: missing quote
// context is common and must not abort processing of the outer message.
func (e *Envelope) Quoted() *Envelope {
	ci := e.Context()
	if ci == nil || len(ci.QuotedMessage) == 0 || string(ci.QuotedMessage) == "null" {
		return nil
	}

	chat := jid.Canonicalize(ci.RemoteJID)
	if chat == "" {
		chat = e.ChatID()
	}
	participant := jid.Canonicalize(ci.Participant)
	if jid.IsGroup(chat) && participant == "" {
		participant = chat
	}

	p, err := parsePayload(ci.QuotedMessage)
	if err != nil {
		p = payload{parts: map[string]part{}}
	}
	normalizeConversation(&p)
	inheritMentions(&p, ci.MentionedJID)

	q := &Envelope{
		Key: domain.MessageKey{
			ChatID:      chat,
			ID:          ci.StanzaID,
			FromMe:      e.selfID != "" && jid.SameUser(e.selfID, participant),
			Participant: participant,
		},
		payload: p,
		selfID:  e.selfID,
	}
	q.kind = resolveKindKey(p.keys)
	return q
}

// normalizeConversation rewrites a bare-text "conversation" payload into the
// structured extended-text shape so the synthesized envelope resolves text
// and kind through the same rules as a normal one.
func normalizeConversation(p *payload) {
	for i, k := range p.keys {
		if k != "conversation" {
			continue
		}
		pt := p.parts[k]
		delete(p.parts, k)
		p.keys[i] = "extendedTextMessage"
		pt.raw = nil
		p.parts["extendedTextMessage"] = pt
		return
	}
}

// inheritMentions copies the quoting context's mention list onto the quoted
// payload when the quoted payload has none of its own.
func inheritMentions(p *payload, mentioned []string) {
	if len(mentioned) == 0 || len(p.keys) == 0 {
		return
	}
	key := resolveKindKey(p.keys)
	pt, ok := p.parts[key]
	if !ok {
		return
	}
	if pt.ContextInfo == nil {
		pt.ContextInfo = &ContextInfo{}
	}
	if len(pt.ContextInfo.MentionedJID) == 0 {
		pt.ContextInfo.MentionedJID = mentioned
	}
	p.parts[key] = pt
}
