package domain

import "context"

// Transport is the underlying messaging library: connect, encrypt and
// multiplex are its problem. This engine only sends through it and asks it
// for group metadata.
type Transport interface {
	Send(ctx context.Context, req *SendRequest) (*MessageKey, error)
	FetchGroupMetadata(ctx context.Context, chatID string) (*GroupMetadata, error)
	// Query issues a low-level control-plane call (read receipts, presence,
	// media downloads). Payload shape is transport-defined.
	Query(ctx context.Context, kind string, args map[string]any) ([]byte, error)
}

// GroupMetadataFetcher is the slice of Transport the history cache needs.
type GroupMetadataFetcher interface {
	FetchGroupMetadata(ctx context.Context, chatID string) (*GroupMetadata, error)
}
