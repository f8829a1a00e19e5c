package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"wabot/internal/command"
	"wabot/internal/envelope"
	"wabot/internal/history"
	"wabot/internal/metrics"
)

// Handler runs one parsed command against its originating message.
type Handler func(ctx context.Context, env *envelope.Envelope, res command.Result) error

// Dispatcher consumes the event bus: each raw event is wrapped, ingested
// into the history cache, parsed for a command, and routed to a handler.
// A malformed or panicking event is logged and skipped, never fatal.
type Dispatcher struct {
	bus    *InMemoryBus
	cache  *history.Cache
	spec   command.Spec
	selfID string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	dispatched *metrics.Counter
	skipped    *metrics.Counter
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Bus    *InMemoryBus
	Cache  *history.Cache
	Spec   command.Spec
	SelfID string
	Logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		bus:        cfg.Bus,
		cache:      cfg.Cache,
		spec:       cfg.Spec,
		selfID:     cfg.SelfID,
		logger:     cfg.Logger,
		handlers:   make(map[string]Handler),
		dispatched: metrics.Collector.Counter("wabot_events_dispatched_total", "Events routed to a command handler"),
		skipped:    metrics.Collector.Counter("wabot_events_skipped_total", "Events skipped as malformed or unhandled"),
	}
}

// Handle registers a handler for a command name. Names are matched
// case-insensitively.
func (d *Dispatcher) Handle(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToLower(name)] = h
}

// Run consumes the bus until ctx is cancelled or the bus closes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started")
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				d.logger.Info("event bus closed, dispatcher stopping")
				return
			}
			d.Process(ctx, ev)
		}
	}
}

// Process handles a single event. Exported so transports that already own
// a read loop can bypass the bus.
func (d *Dispatcher) Process(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.skipped.Inc()
			d.logger.Error("panic while handling event, skipping", "source", ev.Source, "panic", r)
		}
	}()

	env, err := envelope.Wrap(ev.Data, d.selfID)
	if err != nil {
		d.skipped.Inc()
		d.logger.Warn("malformed event, skipping", "source", ev.Source, "err", err)
		return
	}

	d.cache.Ingest(ctx, env)

	if env.FromSelf() {
		return
	}
	res, ok := command.Parse(env.Text(), d.spec)
	if !ok || res.Command == "" {
		return
	}

	d.mu.RLock()
	h, found := d.handlers[strings.ToLower(res.Command)]
	d.mu.RUnlock()
	if !found {
		d.skipped.Inc()
		d.logger.Debug("no handler for command", "command", res.Command)
		return
	}

	d.dispatched.Inc()
	if err := h(ctx, env, res); err != nil {
		d.logger.Error("command handler failed",
			"command", res.Command,
			"chat", env.ChatID(),
			"err", err,
		)
	}
}
