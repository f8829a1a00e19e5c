package envelope

import (
	"context"
	"fmt"

	"wabot/internal/domain"
)

// Store is the slice of the history cache the resolver reads. Lookups that
// fail degrade to the embedded quote context, never to an error.
type Store interface {
	LoadMessage(messageID string) *Envelope
}

// Resolver resolves quoted messages and exposes capability operations on
// them. It holds the transport and cache handles so the envelopes themselves
// stay pure data.
type Resolver struct {
	Transport domain.Transport
	Store     Store
}

// Resolve returns the message env replies to: the cached original when the
// history cache still has it, otherwise the envelope synthesized from the
// embedded quote context. Nil when env is not a reply.
func (r *Resolver) Resolve(env *Envelope) *Envelope {
	q := env.Quoted()
	if q == nil {
		return nil
	}
	if r.Store != nil && q.Key.ID != "" {
		if cached := r.Store.LoadMessage(q.Key.ID); cached != nil {
			return cached
		}
	}
	return q
}

// Reply sends text into the quoted message's chat, quoting it.
func (r *Resolver) Reply(ctx context.Context, q *Envelope, text string) (*domain.MessageKey, error) {
	key := q.Key
	return r.Transport.Send(ctx, &domain.SendRequest{
		ChatID:     q.ChatID(),
		Kind:       domain.KindText,
		Caption:    text,
		QuotedKey:  &key,
		MentionIDs: q.MentionedIDs(),
	})
}

// Forward re-sends the quoted message's payload to another chat.
func (r *Resolver) Forward(ctx context.Context, q *Envelope, chatID string) (*domain.MessageKey, error) {
	req := &domain.SendRequest{
		ChatID:  chatID,
		Kind:    domain.KindText,
		Caption: q.Text(),
	}
	if m := q.Media(); m != nil {
		req.Kind = domain.WireKind(m.Kind)
		req.URL = m.URL
		req.MimeType = m.Mimetype
		req.FileName = m.FileName
	}
	return r.Transport.Send(ctx, req)
}

// React attaches an emoji reaction to the quoted message.
func (r *Resolver) React(ctx context.Context, q *Envelope, emoji string) error {
	_, err := r.Transport.Query(ctx, "react", map[string]any{
		"chatId":      q.ChatID(),
		"messageId":   q.Key.ID,
		"participant": q.Key.Participant,
		"fromMe":      q.Key.FromMe,
		"text":        emoji,
	})
	return err
}

// Download fetches the quoted message's media bytes through the transport.
func (r *Resolver) Download(ctx context.Context, q *Envelope) ([]byte, error) {
	m := q.Media()
	if m == nil {
		return nil, fmt.Errorf("quoted message has no media")
	}
	return r.Transport.Query(ctx, "mediaDownload", map[string]any{
		"kind":       string(m.Kind),
		"url":        m.URL,
		"directPath": m.DirectPath,
		"mimetype":   m.Mimetype,
	})
}
