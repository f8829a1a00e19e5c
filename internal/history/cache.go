// Package history maintains a bounded, insertion-ordered per-chat message
// cache so replies and quotes can be resolved even though the underlying
// transport retains no history. One Cache exists per running session; it is
// passed by handle to whatever needs it, never reached through a global.
package history

import (
	"context"
	"log/slog"
	"sync"

	"wabot/internal/domain"
	"wabot/internal/envelope"
	"wabot/internal/jid"
	"wabot/internal/metrics"
)

const (
	defaultHighWater   = 40
	defaultRetainCount = 10
)

// Namer persists display names observed during ingestion. Optional.
type Namer interface {
	Upsert(ctx context.Context, id, name string) error
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	// HighWater triggers eviction when a chat's message count exceeds it.
	HighWater int
	// RetainCount is how many of the most recent messages survive an
	// eviction. The trim is deliberately aggressive: overflow keeps
	// RetainCount, not HighWater-ish.
	RetainCount int
	Meta        domain.GroupMetadataFetcher
	Names       Namer
	Logger      *slog.Logger
}

// Cache is the process-wide chat history store. Writers are the ingestion
// path only; command handlers and the quoted resolver read from it.
type Cache struct {
	mu     sync.RWMutex
	chats  map[string]*ChatRecord
	hw     int
	retain int
	meta   domain.GroupMetadataFetcher
	names  Namer
	logger *slog.Logger

	ingested  *metrics.Counter
	evictions *metrics.Counter
	synthetic *metrics.Counter
	tracked   *metrics.Gauge
}

// ChatRecord holds one chat's metadata and its bounded message store.
// Owned exclusively by the Cache.
type ChatRecord struct {
	ID          string
	DisplayName string
	IsGroup     bool
	Metadata    *domain.GroupMetadata

	metaFetched bool
	overflowed  bool
	order       []string // message ids, insertion order
	messages    map[string]*envelope.Envelope
}

// NewCache creates a Cache. Zero thresholds fall back to the defaults
// (high-water 40, retain 10).
func NewCache(cfg CacheConfig) *Cache {
	if cfg.HighWater <= 0 {
		cfg.HighWater = defaultHighWater
	}
	if cfg.RetainCount <= 0 || cfg.RetainCount > cfg.HighWater {
		cfg.RetainCount = defaultRetainCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		chats:     map[string]*ChatRecord{},
		hw:        cfg.HighWater,
		retain:    cfg.RetainCount,
		meta:      cfg.Meta,
		names:     cfg.Names,
		logger:    cfg.Logger,
		ingested:  metrics.Collector.Counter("wabot_history_ingested_total", "Messages ingested into the history cache"),
		evictions: metrics.Collector.Counter("wabot_history_evictions_total", "Eviction passes applied to chat records"),
		synthetic: metrics.Collector.Counter("wabot_history_synthetic_total", "Synthetic quoted-message records stored"),
		tracked:   metrics.Collector.Gauge("wabot_history_chats", "Chat records currently tracked"),
	}
}

// Ingest records one wrapped event. Every step is idempotent, and a
// malformed or partial event is skipped with a log line rather than
// aborting the caller's batch.
func (c *Cache) Ingest(ctx context.Context, env *envelope.Envelope) {
	if env == nil {
		return
	}
	chat := env.ChatID()
	if chat == "" || chat == jid.StatusBroadcast || jid.IsBroadcast(chat) {
		return
	}

	c.storeQuoted(env)

	isGroup := jid.IsGroup(chat)

	// Group metadata is fetched before the record mutation is applied, so a
	// concurrent read never observes a half-built record.
	var meta *domain.GroupMetadata
	if isGroup && c.meta != nil && !c.metaKnown(chat) {
		m, err := c.meta.FetchGroupMetadata(ctx, chat)
		if err != nil {
			c.logger.Warn("group metadata fetch failed", "chat", chat, "err", err)
		} else {
			meta = m
		}
	}

	c.mu.Lock()
	rec := c.ensureLocked(chat, isGroup)
	if isGroup && !rec.metaFetched {
		rec.Metadata = meta
		rec.metaFetched = true
		if meta != nil && rec.DisplayName == "" {
			rec.DisplayName = meta.Subject
		}
	}

	sender := env.SenderID()
	pushName := env.PushName
	if pushName != "" {
		if isGroup && sender != chat {
			sr := c.ensureLocked(sender, false)
			if sr.DisplayName == "" {
				sr.DisplayName = pushName
			}
		} else if !isGroup && rec.DisplayName == "" {
			rec.DisplayName = pushName
		}
	}

	kindKey := env.KindKey()
	skip := kindKey == "" ||
		kindKey == "senderKeyDistributionMessage" ||
		kindKey == "messageContextInfo" ||
		env.Kind() == envelope.KindProtocolControl ||
		env.FromSelf() ||
		env.Key.ID == ""
	if !skip {
		if _, exists := rec.messages[env.Key.ID]; !exists {
			rec.order = append(rec.order, env.Key.ID)
		}
		rec.messages[env.Key.ID] = env
		c.evictLocked(rec)
		c.ingested.Inc()
	}
	c.mu.Unlock()

	if pushName != "" && c.names != nil {
		id := sender
		if id == "" {
			id = chat
		}
		if err := c.names.Upsert(ctx, id, pushName); err != nil {
			c.logger.Warn("name upsert failed", "id", id, "err", err)
		}
	}
}

// storeQuoted stores a synthetic record for a referenced quoted message
// under the quoting participant's own chat slot, so later lookups succeed
// even though the quoted message never arrived as a top-level event.
// Skip-on-exists: an already-cached original is never overwritten.
func (c *Cache) storeQuoted(env *envelope.Envelope) {
	q := env.Quoted()
	if q == nil || q.Key.ID == "" || q.Key.FromMe {
		return
	}
	slot := q.Key.Participant
	if slot == "" || slot == jid.StatusBroadcast {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.ensureLocked(slot, jid.IsGroup(slot))
	if _, exists := rec.messages[q.Key.ID]; exists {
		return
	}
	rec.order = append(rec.order, q.Key.ID)
	rec.messages[q.Key.ID] = q
	c.evictLocked(rec)
	c.synthetic.Inc()
}

func (c *Cache) metaKnown(chat string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.chats[chat]
	return ok && rec.metaFetched
}

func (c *Cache) ensureLocked(chat string, isGroup bool) *ChatRecord {
	rec, ok := c.chats[chat]
	if !ok {
		rec = &ChatRecord{
			ID:       chat,
			IsGroup:  isGroup,
			messages: map[string]*envelope.Envelope{},
		}
		c.chats[chat] = rec
		c.tracked.Set(int64(len(c.chats)))
	}
	return rec
}

// evictLocked applies the high-water/low-water rule: once the store exceeds
// the high-water mark, only the most recent retain-count entries survive,
// and the record stays clamped at the retain count from then on.
func (c *Cache) evictLocked(rec *ChatRecord) {
	if !rec.overflowed {
		if len(rec.order) <= c.hw {
			return
		}
		rec.overflowed = true
	}
	if len(rec.order) <= c.retain {
		return
	}
	cut := len(rec.order) - c.retain
	for _, id := range rec.order[:cut] {
		delete(rec.messages, id)
	}
	rec.order = append([]string(nil), rec.order[cut:]...)
	c.evictions.Inc()
}

// Lookup returns the message with the given id in the given chat, or nil.
func (c *Cache) Lookup(chatID, messageID string) *envelope.Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.chats[jid.Canonicalize(chatID)]
	if !ok {
		return nil
	}
	return rec.messages[messageID]
}

// LoadMessage scans every chat record for the given message id. The cache
// is small and bounded, so the linear scan is fine.
func (c *Cache) LoadMessage(messageID string) *envelope.Envelope {
	if messageID == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.chats {
		if env, ok := rec.messages[messageID]; ok {
			return env
		}
	}
	return nil
}

// ChatInfo is a read-only view of one chat record.
type ChatInfo struct {
	ID           string
	DisplayName  string
	IsGroup      bool
	Metadata     *domain.GroupMetadata
	MessageCount int
}

// Chat returns a snapshot of the chat's metadata, or nil when unknown.
func (c *Cache) Chat(chatID string) *ChatInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.chats[jid.Canonicalize(chatID)]
	if !ok {
		return nil
	}
	return &ChatInfo{
		ID:           rec.ID,
		DisplayName:  rec.DisplayName,
		IsGroup:      rec.IsGroup,
		Metadata:     rec.Metadata,
		MessageCount: len(rec.order),
	}
}

// Messages returns the chat's messages in insertion order.
func (c *Cache) Messages(chatID string) []*envelope.Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.chats[jid.Canonicalize(chatID)]
	if !ok {
		return nil
	}
	out := make([]*envelope.Envelope, 0, len(rec.order))
	for _, id := range rec.order {
		out = append(out, rec.messages[id])
	}
	return out
}
