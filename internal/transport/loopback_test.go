package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"wabot/internal/domain"
)

func TestLoopback_SendRecordsAndKeys(t *testing.T) {
	var out bytes.Buffer
	l := NewLoopback(LoopbackConfig{Out: &out})

	key, err := l.Send(context.Background(), &domain.SendRequest{
		ChatID:  "628111@s.whatsapp.net",
		Kind:    domain.KindText,
		Caption: "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if key.ChatID != "628111@s.whatsapp.net" || !key.FromMe || key.ID == "" {
		t.Fatalf("key = %+v", key)
	}
	if key.ID != strings.ToUpper(key.ID) {
		t.Fatalf("id not uppercased: %q", key.ID)
	}

	key2, err := l.Send(context.Background(), &domain.SendRequest{ChatID: "c", Kind: domain.KindText})
	if err != nil {
		t.Fatal(err)
	}
	if key2.ID == key.ID {
		t.Fatal("send ids must be unique")
	}

	if got := l.Sends(); len(got) != 2 || got[0].Caption != "hello" {
		t.Fatalf("sends = %d", len(got))
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestLoopback_GroupMetadata(t *testing.T) {
	l := NewLoopback(LoopbackConfig{Out: &bytes.Buffer{}})
	l.AddGroup(&domain.GroupMetadata{
		ID:      "12036304@g.us",
		Subject: "dev room",
		Participants: []domain.GroupParticipant{
			{ID: "628111@s.whatsapp.net", IsAdmin: true},
		},
	})

	meta, err := l.FetchGroupMetadata(context.Background(), "12036304@g.us")
	if err != nil {
		t.Fatalf("FetchGroupMetadata: %v", err)
	}
	if meta.Subject != "dev room" || len(meta.Participants) != 1 {
		t.Fatalf("meta = %+v", meta)
	}

	if _, err := l.FetchGroupMetadata(context.Background(), "999@g.us"); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestLoopback_QueryAcks(t *testing.T) {
	l := NewLoopback(LoopbackConfig{Out: &bytes.Buffer{}})
	raw, err := l.Query(context.Background(), "react", map[string]any{"emoji": "x"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	if resp["kind"] != "react" || resp["ok"] != true {
		t.Fatalf("resp = %v", resp)
	}
}
