// Package transport provides the in-process loopback transport used by the
// dev harness and tests. It records every send and answers group metadata
// from a static table.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wabot/internal/domain"
	"wabot/internal/jid"
)

// Loopback implements domain.Transport without a wire protocol. Sends are
// printed and recorded; message keys carry synthesized identifiers.
type Loopback struct {
	logger *slog.Logger
	out    io.Writer
	selfID string

	mu     sync.Mutex
	sends  []*domain.SendRequest
	groups map[string]*domain.GroupMetadata
}

type LoopbackConfig struct {
	Logger *slog.Logger
	Out    io.Writer
	SelfID string
	// Groups seeds the static metadata table, keyed by group identifier.
	Groups map[string]*domain.GroupMetadata
}

func NewLoopback(cfg LoopbackConfig) *Loopback {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Groups == nil {
		cfg.Groups = make(map[string]*domain.GroupMetadata)
	}
	return &Loopback{
		logger: cfg.Logger,
		out:    cfg.Out,
		selfID: cfg.SelfID,
		groups: cfg.Groups,
	}
}

// AddGroup seeds metadata for a group identifier.
func (l *Loopback) AddGroup(meta *domain.GroupMetadata) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups[meta.ID] = meta
}

// Send records the request and prints a one-line rendering of it.
func (l *Loopback) Send(ctx context.Context, req *domain.SendRequest) (*domain.MessageKey, error) {
	if req == nil {
		return nil, fmt.Errorf("loopback: nil send request")
	}

	l.mu.Lock()
	l.sends = append(l.sends, req)
	l.mu.Unlock()

	key := &domain.MessageKey{
		ChatID: req.ChatID,
		ID:     strings.ToUpper(uuid.NewString()),
		FromMe: true,
	}
	if jid.IsGroup(req.ChatID) {
		key.Participant = l.selfID
	}

	switch req.Kind {
	case domain.KindText:
		fmt.Fprintf(l.out, "[%s] -> %s: %s\n", key.ID[:8], req.ChatID, req.Caption)
	default:
		fmt.Fprintf(l.out, "[%s] -> %s: <%s %s, %d bytes> %s\n",
			key.ID[:8], req.ChatID, req.Kind, req.MimeType, len(req.Data), req.Caption)
	}
	l.logger.Debug("loopback send", "chat", req.ChatID, "kind", req.Kind, "id", key.ID)
	return key, nil
}

// FetchGroupMetadata answers from the seeded table.
func (l *Loopback) FetchGroupMetadata(ctx context.Context, chatID string) (*domain.GroupMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, ok := l.groups[chatID]
	if !ok {
		return nil, fmt.Errorf("loopback: no metadata for group %s", chatID)
	}
	return meta, nil
}

// Query acknowledges side-channel operations without performing them.
func (l *Loopback) Query(ctx context.Context, kind string, args map[string]any) ([]byte, error) {
	l.logger.Debug("loopback query", "kind", kind)
	resp := map[string]any{
		"kind": kind,
		"ok":   true,
		"ts":   time.Now().Unix(),
	}
	return json.Marshal(resp)
}

// Sends returns a snapshot of everything sent so far.
func (l *Loopback) Sends() []*domain.SendRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.SendRequest, len(l.sends))
	copy(out, l.sends)
	return out
}
