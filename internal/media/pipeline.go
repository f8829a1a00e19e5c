// Package media turns a payload locator into a structured send request:
// sniff content type, pick a wire representation, run fallback converter
// chains, and degrade gracefully when converters or fetches fail.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"wabot/internal/domain"
	"wabot/internal/jid"
	"wabot/internal/metrics"
)

// ErrConversionFailed is returned when every converter in the selected chain
// failed or produced nothing.
var ErrConversionFailed = errors.New("media: conversion failed")

// ErrOversized is returned for payloads above the transport's maximum size.
// Oversized sends are reported, never retried.
var ErrOversized = errors.New("media: payload exceeds maximum size")

// defaultMaxBytes is the transport's file sharing limit.
const defaultMaxBytes = 2_000_000_000

const defaultFetchTimeout = 30 * time.Second

// Locator names a payload: inline bytes, or a reference that is a base64
// data URI, an http(s) URL, or a local file path.
type Locator struct {
	Bytes []byte
	Ref   string
}

// FromBytes wraps raw bytes as a locator.
func FromBytes(b []byte) Locator { return Locator{Bytes: b} }

// FromRef wraps a data URI, URL, or file path as a locator.
func FromRef(ref string) Locator { return Locator{Ref: ref} }

// Options steer one send.
type Options struct {
	Caption    string
	FileName   string
	MimeType   string // overrides the sniffed type on the request
	AsSticker  bool
	AsDocument bool
	PTT        bool
	Sticker    domain.StickerMeta // stamping pack/author implies a sticker
	QuotedKey  *domain.MessageKey
	Mentions   []string // explicit mention list; overrides computed mentions
	// ReplyMentions is the ambient reply-context default, applied when no
	// explicit mentions are given.
	ReplyMentions []string
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Sniffer     domain.Sniffer
	Converters  domain.Converters
	Client      *http.Client // bounds URL fetches; a timeout is applied if absent
	MaxBytes    int64
	Placeholder []byte // error-image payload for unresolvable locators
	Logger      *slog.Logger
}

// Pipeline builds send requests.
type Pipeline struct {
	sniffer     domain.Sniffer
	conv        domain.Converters
	client      *http.Client
	maxBytes    int64
	placeholder []byte
	logger      *slog.Logger

	built     *metrics.Counter
	fallbacks *metrics.Counter
	failures  *metrics.Counter
	retries   *metrics.Counter
}

// NewPipeline creates a Pipeline with defaults filled in.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Sniffer == nil {
		cfg.Sniffer = MimeSniffer{}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if len(cfg.Placeholder) == 0 {
		cfg.Placeholder = placeholderJPEG
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		sniffer:     cfg.Sniffer,
		conv:        cfg.Converters,
		client:      cfg.Client,
		maxBytes:    cfg.MaxBytes,
		placeholder: cfg.Placeholder,
		logger:      cfg.Logger,
		built:       metrics.Collector.Counter("wabot_media_built_total", "Send requests built by the media pipeline"),
		fallbacks:   metrics.Collector.Counter("wabot_media_fallbacks_total", "Converter chain fallbacks taken"),
		failures:    metrics.Collector.Counter("wabot_media_failures_total", "Media builds that failed outright"),
		retries:     metrics.Collector.Counter("wabot_media_send_retries_total", "Structured sends retried with raw payload"),
	}
}

// BuildSend materializes the locator, sniffs its type, runs any requested
// conversion chain and returns the structured send request.
func (p *Pipeline) BuildSend(ctx context.Context, chatID string, loc Locator, opts Options) (*domain.SendRequest, error) {
	req, _, err := p.build(ctx, chatID, loc, opts)
	return req, err
}

// build also returns the unconverted bytes so SendFile can fall back to
// them.
func (p *Pipeline) build(ctx context.Context, chatID string, loc Locator, opts Options) (*domain.SendRequest, []byte, error) {
	src := p.materialize(ctx, loc)
	if src.placeholder {
		p.logger.Warn("locator unresolvable, sending placeholder image", "chat", chatID)
	}
	raw := src.data
	ft := p.sniffer.Detect(raw)

	kind := classify(ft.Mime)
	data := raw
	mime := ft.Mime
	converted := false

	wantSticker := opts.AsSticker || opts.Sticker.PackName != "" || opts.Sticker.Author != ""

	switch {
	case opts.AsDocument:
		// Caller override beats detection and conversion; original MIME is
		// retained.
		kind = domain.KindDocument

	case wantSticker && (kind == domain.KindImage || kind == domain.KindVideo || kind == domain.KindSticker):
		out, rewrote, err := p.toSticker(data, kind)
		if err != nil {
			p.failures.Inc()
			return nil, nil, err
		}
		if opts.Sticker.PackName != "" || opts.Sticker.Author != "" {
			// Metadata is stamped after conversion, onto the finished webp.
			if p.conv.StampWebpMetadata != nil {
				stamped, err := p.conv.StampWebpMetadata(out, opts.Sticker)
				if err != nil || len(stamped) == 0 {
					p.logger.Warn("sticker metadata stamp failed", "err", err)
				} else {
					out = stamped
					rewrote = true
				}
			}
		}
		data = out
		converted = rewrote
		kind = domain.KindSticker
		mime = "image/webp"

	case kind == domain.KindAudio:
		out, err := p.toAudio(data)
		if err != nil {
			p.failures.Inc()
			return nil, nil, err
		}
		data = out
		converted = true
		mime = "audio/ogg; codecs=opus"
	}

	if opts.MimeType != "" {
		mime = opts.MimeType
	}

	if len(data) == 0 {
		p.failures.Inc()
		return nil, nil, fmt.Errorf("%w: empty payload", ErrConversionFailed)
	}
	if int64(len(data)) > p.maxBytes {
		p.failures.Inc()
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrOversized, len(data))
	}

	fileName := opts.FileName
	if fileName == "" && src.ref != "" {
		fileName = baseName(src.ref)
	}

	req := &domain.SendRequest{
		ChatID:    chatID,
		Kind:      kind,
		Data:      data,
		MimeType:  mime,
		FileName:  fileName,
		Caption:   opts.Caption,
		PTT:       opts.PTT,
		QuotedKey: opts.QuotedKey,
		Timestamp: time.Now(),
	}
	// An upload locator survives only when the payload bytes were not
	// rewritten by a converter.
	if src.ref != "" && !converted {
		req.URL = src.ref
	}
	req.MentionIDs = mergeMentions(opts, req.Caption)

	p.built.Inc()
	return req, raw, nil
}

// SendFile builds and sends in one step. A failed structured send is
// retried exactly once with the unconverted raw bytes inline; this is the
// documented usage contract of the pipeline.
func (p *Pipeline) SendFile(ctx context.Context, t domain.Transport, chatID string, loc Locator, opts Options) (*domain.MessageKey, error) {
	req, raw, err := p.build(ctx, chatID, loc, opts)
	if err != nil {
		return nil, err
	}
	key, err := t.Send(ctx, req)
	if err == nil {
		return key, nil
	}

	p.logger.Warn("structured send failed, retrying with raw payload", "chat", chatID, "err", err)
	p.retries.Inc()
	retry := *req
	retry.URL = ""
	retry.Data = raw
	retry.MimeType = p.sniffer.Detect(raw).Mime
	retry.Kind = classify(retry.MimeType)
	if opts.AsDocument {
		retry.Kind = domain.KindDocument
	}
	return t.Send(ctx, &retry)
}

// toSticker runs the sticker chain: the smart converter first, then the
// basic webp converter for the underlying kind. Already-webp payloads pass
// through untouched.
func (p *Pipeline) toSticker(data []byte, kind domain.WireKind) ([]byte, bool, error) {
	if kind == domain.KindSticker {
		return data, false, nil
	}
	if p.conv.ToStickerImage != nil {
		out, err := p.conv.ToStickerImage(data)
		if err == nil && len(out) > 0 {
			return out, true, nil
		}
		p.fallbacks.Inc()
		if err != nil {
			p.logger.Warn("smart sticker converter failed, falling back", "err", err)
		}
	}
	basic := p.conv.ToWebpImage
	if kind == domain.KindVideo {
		basic = p.conv.ToWebpVideo
	}
	if basic == nil {
		return nil, false, ErrConversionFailed
	}
	out, err := basic(data)
	if err != nil || len(out) == 0 {
		return nil, false, fmt.Errorf("%w: webp converter: %v", ErrConversionFailed, err)
	}
	return out, true, nil
}

// toAudio compresses to low bitrate first, then falls back to the generic
// audio converter.
func (p *Pipeline) toAudio(data []byte) ([]byte, error) {
	if p.conv.ToCompressedAudio != nil {
		out, err := p.conv.ToCompressedAudio(data)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		p.fallbacks.Inc()
		if err != nil {
			p.logger.Warn("audio compression failed, falling back", "err", err)
		}
	}
	if p.conv.ToAudio == nil {
		return nil, ErrConversionFailed
	}
	out, err := p.conv.ToAudio(data)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%w: audio converter: %v", ErrConversionFailed, err)
	}
	return out, nil
}

// classify maps a MIME type to a wire kind. webp is already sticker-shaped;
// unknown binary falls through to document.
func classify(mime string) domain.WireKind {
	switch {
	case mime == "image/webp":
		return domain.KindSticker
	case strings.HasPrefix(mime, "image/"):
		return domain.KindImage
	case strings.HasPrefix(mime, "video/"):
		return domain.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return domain.KindAudio
	default:
		return domain.KindDocument
	}
}

var mentionRe = regexp.MustCompile(`@(\d{5,16})`)

// ParseMentions extracts mentioned identifiers from message text.
func ParseMentions(text string) []string {
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1]+"@"+jid.DefaultServer)
	}
	return out
}

// mergeMentions applies the documented precedence: explicit per-call option,
// then the ambient reply-context default, then mentions computed from the
// caption.
func mergeMentions(opts Options, caption string) []string {
	if len(opts.Mentions) > 0 {
		return opts.Mentions
	}
	if len(opts.ReplyMentions) > 0 {
		return opts.ReplyMentions
	}
	return ParseMentions(caption)
}

func baseName(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// placeholderJPEG is a minimal baseline JPEG used when a locator cannot be
// resolved; sends degrade to it instead of failing outright.
var placeholderJPEG = []byte{
	0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46, 0x00, 0x01,
	0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xff, 0xdb, 0x00, 0x43,
	0x00, 0x08, 0x06, 0x06, 0x07, 0x06, 0x05, 0x08, 0x07, 0x07, 0x07, 0x09,
	0x09, 0x08, 0x0a, 0x0c, 0x14, 0x0d, 0x0c, 0x0b, 0x0b, 0x0c, 0x19, 0x12,
	0x13, 0x0f, 0x14, 0x1d, 0x1a, 0x1f, 0x1e, 0x1d, 0x1a, 0x1c, 0x1c, 0x20,
	0x24, 0x2e, 0x27, 0x20, 0x22, 0x2c, 0x23, 0x1c, 0x1c, 0x28, 0x37, 0x29,
	0x2c, 0x30, 0x31, 0x34, 0x34, 0x34, 0x1f, 0x27, 0x39, 0x3d, 0x38, 0x32,
	0x3c, 0x2e, 0x33, 0x34, 0x32, 0xff, 0xc0, 0x00, 0x0b, 0x08, 0x00, 0x01,
	0x00, 0x01, 0x01, 0x01, 0x11, 0x00, 0xff, 0xc4, 0x00, 0x1f, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0xff, 0xc4, 0x00, 0x14, 0x10, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xda, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3f, 0x00, 0x7f, 0xff,
	0xd9,
}
