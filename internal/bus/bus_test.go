package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"wabot/internal/command"
	"wabot/internal/envelope"
	"wabot/internal/history"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func eventJSON(id, text string) []byte {
	return fmt.Appendf(nil,
		`{"key":{"remoteJid":"628111@s.whatsapp.net","fromMe":false,"id":%q},"pushName":"Rin","messageTimestamp":1700000000,"message":{"conversation":%q}}`,
		id, text)
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testBusLogger())
	b.Publish(Event{Source: "test", Data: []byte("one")})
	b.Publish(Event{Source: "test", Data: []byte("two")})

	ev := <-b.Subscribe()
	if string(ev.Data) != "one" {
		t.Fatalf("got %q, want one", ev.Data)
	}
	ev = <-b.Subscribe()
	if string(ev.Data) != "two" {
		t.Fatalf("got %q, want two", ev.Data)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(4, testBusLogger())
	b.Close()
	b.Publish(Event{Source: "test", Data: []byte("late")}) // must not panic
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("subscribe channel should be closed")
	}
}

func TestBus_CloseTwice(t *testing.T) {
	b := New(1, testBusLogger())
	b.Close()
	b.Close()
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *history.Cache) {
	t.Helper()
	cache := history.NewCache(history.CacheConfig{Logger: testBusLogger()})
	d := NewDispatcher(DispatcherConfig{
		Bus:    New(4, testBusLogger()),
		Cache:  cache,
		Spec:   command.Literals("!"),
		SelfID: "628999@s.whatsapp.net",
		Logger: testBusLogger(),
	})
	return d, cache
}

func TestDispatcher_RoutesCommand(t *testing.T) {
	d, cache := newTestDispatcher(t)

	var got command.Result
	var gotChat string
	d.Handle("ping", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		got = res
		gotChat = env.ChatID()
		return nil
	})

	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M1", "!ping now")})

	if got.Command != "ping" || len(got.Args) != 1 || got.Args[0] != "now" {
		t.Fatalf("result = %+v", got)
	}
	if gotChat != "628111@s.whatsapp.net" {
		t.Fatalf("chat = %q", gotChat)
	}
	// The event must be cached regardless of command routing.
	if cache.Lookup("628111@s.whatsapp.net", "M1") == nil {
		t.Fatal("event not ingested")
	}
}

func TestDispatcher_NonCommandStillIngested(t *testing.T) {
	d, cache := newTestDispatcher(t)
	called := false
	d.Handle("ping", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		called = true
		return nil
	})

	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M2", "just chatting")})

	if called {
		t.Fatal("handler must not run for plain text")
	}
	if cache.Lookup("628111@s.whatsapp.net", "M2") == nil {
		t.Fatal("plain message not ingested")
	}
}

func TestDispatcher_MalformedSkipped(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Process(context.Background(), Event{Source: "test", Data: []byte(`{nope`)})
	d.Process(context.Background(), Event{Source: "test", Data: []byte(`{}`)})
	// Still alive afterwards.
	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M3", "hello")})
}

func TestDispatcher_HandlerPanicRecovered(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Handle("boom", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		panic("handler bug")
	})

	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M4", "!boom")})

	// A panicking handler must not take the dispatcher down.
	ran := false
	d.Handle("ok", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		ran = true
		return nil
	})
	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M5", "!ok")})
	if !ran {
		t.Fatal("dispatcher dead after handler panic")
	}
}

func TestDispatcher_HandlerErrorLoggedNotFatal(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Handle("fail", func(ctx context.Context, env *envelope.Envelope, res command.Result) error {
		return errors.New("nope")
	})
	d.Process(context.Background(), Event{Source: "test", Data: eventJSON("M6", "!fail")})
}

func TestDispatcher_RunStopsOnBusClose(t *testing.T) {
	d, _ := newTestDispatcher(t)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	d.bus.Publish(Event{Source: "test", Data: eventJSON("M7", "hi")})
	d.bus.Close()
	<-done
}
