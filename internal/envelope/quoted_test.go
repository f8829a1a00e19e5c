package envelope

import (
	"context"
	"testing"

	"wabot/internal/domain"
)

func TestQuoted_NoContext(t *testing.T) {
	e := mustWrap(t, `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "Q1"},
		"message": {"conversation": "plain"}
	}`)
	if q := e.Quoted(); q != nil {
		t.Fatalf("Quoted = %+v, want nil", q)
	}
}

func TestQuoted_ConversationNormalized(t *testing.T) {
	e := mustWrap(t, `{
		"key": {"remoteJid": "123-456@g.us", "id": "Q2", "participant": "628222@s.whatsapp.net"},
		"message": {"extendedTextMessage": {
			"text": "replying",
			"contextInfo": {
				"stanzaId": "ORIG1",
				"participant": "628333:9@s.whatsapp.net",
				"quotedMessage": {"conversation": "original words"}
			}
		}}
	}`)
	q := e.Quoted()
	if q == nil {
		t.Fatal("expected quoted envelope")
	}
	if q.Key.ID != "ORIG1" {
		t.Fatalf("quoted id = %q", q.Key.ID)
	}
	// remoteJid absent in context: fall back to the outer chat.
	if q.ChatID() != "123-456@g.us" {
		t.Fatalf("quoted chat = %q", q.ChatID())
	}
	if q.Key.Participant != "628333@s.whatsapp.net" {
		t.Fatalf("quoted participant = %q", q.Key.Participant)
	}
	if q.Kind() != KindText || q.Text() != "original words" {
		t.Fatalf("quoted kind=%v text=%q", q.Kind(), q.Text())
	}
	if q.KindKey() != "extendedTextMessage" {
		t.Fatalf("bare conversation should normalize, got %q", q.KindKey())
	}
}

func TestQuoted_MalformedPayload(t *testing.T) {
	e := mustWrap(t, `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "Q3"},
		"message": {"extendedTextMessage": {
			"text": "replying",
			"contextInfo": {"stanzaId": "ORIG2", "quotedMessage": [1, 2, 3]}
		}}
	}`)
	q := e.Quoted()
	if q == nil {
		t.Fatal("malformed quote context should still resolve to an envelope")
	}
	if q.Text() != "" {
		t.Fatalf("quoted text = %q, want empty", q.Text())
	}
}

func TestQuoted_MediaAndMentions(t *testing.T) {
	e := mustWrap(t, `{
		"key": {"remoteJid": "123-456@g.us", "id": "Q4", "participant": "628222@s.whatsapp.net"},
		"message": {"extendedTextMessage": {
			"text": "nice photo",
			"contextInfo": {
				"stanzaId": "ORIG3",
				"participant": "628333@s.whatsapp.net",
				"remoteJid": "123-456@g.us",
				"mentionedJid": ["628444@s.whatsapp.net"],
				"quotedMessage": {"imageMessage": {"url": "https://mmg.whatsapp.net/q", "mimetype": "image/jpeg", "caption": "sunset"}}
			}
		}}
	}`)
	q := e.Quoted()
	if q == nil {
		t.Fatal("expected quoted envelope")
	}
	if q.Kind() != KindImage || q.Text() != "sunset" {
		t.Fatalf("quoted kind=%v text=%q", q.Kind(), q.Text())
	}
	m := q.Media()
	if m == nil || m.Mimetype != "image/jpeg" {
		t.Fatalf("quoted media = %+v", m)
	}
	got := q.MentionedIDs()
	if len(got) != 1 || got[0] != "628444@s.whatsapp.net" {
		t.Fatalf("inherited mentions = %v", got)
	}
}

// fakeTransport records sends and answers queries with canned bytes.
type fakeTransport struct {
	sends   []*domain.SendRequest
	queries []string
	fail    bool
}

func (f *fakeTransport) Send(ctx context.Context, req *domain.SendRequest) (*domain.MessageKey, error) {
	f.sends = append(f.sends, req)
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return &domain.MessageKey{ChatID: req.ChatID, ID: "SENT", FromMe: true}, nil
}

func (f *fakeTransport) FetchGroupMetadata(ctx context.Context, chatID string) (*domain.GroupMetadata, error) {
	return &domain.GroupMetadata{ID: chatID, Subject: "test group"}, nil
}

func (f *fakeTransport) Query(ctx context.Context, kind string, args map[string]any) ([]byte, error) {
	f.queries = append(f.queries, kind)
	return []byte("bytes"), nil
}

type fakeStore map[string]*Envelope

func (s fakeStore) LoadMessage(id string) *Envelope { return s[id] }

func TestResolver_PrefersCachedOriginal(t *testing.T) {
	outer := mustWrap(t, `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "Q5"},
		"message": {"extendedTextMessage": {
			"text": "reply",
			"contextInfo": {"stanzaId": "ORIG4", "quotedMessage": {"conversation": "embedded copy"}}
		}}
	}`)
	cached := mustWrap(t, `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "ORIG4"},
		"message": {"conversation": "the real one"}
	}`)

	r := &Resolver{Store: fakeStore{"ORIG4": cached}}
	got := r.Resolve(outer)
	if got == nil || got.Text() != "the real one" {
		t.Fatalf("Resolve = %+v, want cached original", got)
	}

	r2 := &Resolver{Store: fakeStore{}}
	got2 := r2.Resolve(outer)
	if got2 == nil || got2.Text() != "embedded copy" {
		t.Fatalf("Resolve without cache = %+v, want embedded synthesis", got2)
	}

	if r2.Resolve(mustWrap(t, `{"key": {"remoteJid": "x@s.whatsapp.net", "id": "Q6"}, "message": {"conversation": "no quote"}}`)) != nil {
		t.Fatal("Resolve on non-reply should be nil")
	}
}

func TestResolver_Capabilities(t *testing.T) {
	outer := mustWrap(t, `{
		"key": {"remoteJid": "123-456@g.us", "id": "Q7", "participant": "628222@s.whatsapp.net"},
		"message": {"extendedTextMessage": {
			"text": "reply",
			"contextInfo": {
				"stanzaId": "ORIG5",
				"participant": "628333@s.whatsapp.net",
				"quotedMessage": {"imageMessage": {"url": "https://mmg.whatsapp.net/q", "mimetype": "image/jpeg"}}
			}
		}}
	}`)
	tr := &fakeTransport{}
	r := &Resolver{Transport: tr}
	q := r.Resolve(outer)
	if q == nil {
		t.Fatal("expected quoted envelope")
	}

	if _, err := r.Reply(context.Background(), q, "got it"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	sent := tr.sends[0]
	if sent.ChatID != "123-456@g.us" || sent.QuotedKey == nil || sent.QuotedKey.ID != "ORIG5" {
		t.Fatalf("Reply request = %+v", sent)
	}

	if _, err := r.Forward(context.Background(), q, "628555@s.whatsapp.net"); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	fwd := tr.sends[1]
	if fwd.Kind != domain.KindImage || fwd.URL == "" {
		t.Fatalf("Forward request = %+v", fwd)
	}

	if err := r.React(context.Background(), q, "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
	data, err := r.Download(context.Background(), q)
	if err != nil || len(data) == 0 {
		t.Fatalf("Download: %v %q", err, data)
	}
	if len(tr.queries) != 2 || tr.queries[0] != "react" || tr.queries[1] != "mediaDownload" {
		t.Fatalf("queries = %v", tr.queries)
	}
}
