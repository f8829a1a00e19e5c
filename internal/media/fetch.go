package media

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var dataURIRe = regexp.MustCompile(`^data:.*?/.*?;base64,`)

// textContentTypes are response types that signal an API error body or a
// page, not a binary payload. Fetching those as media would smuggle error
// text into the send.
var textContentTypes = regexp.MustCompile(`^(text/(plain|html|xml)|application/(json|([^;]*\+)?xml))`)

// source is the materialized form of a locator.
type source struct {
	data        []byte
	ref         string // original URL or file path when the locator had one
	placeholder bool
}

// materialize resolves a locator to bytes: inline data URI, then URL (only
// when its declared content type is not a text family), then local path.
// Unresolvable locators yield the placeholder error image; materialize
// itself never fails.
func (p *Pipeline) materialize(ctx context.Context, loc Locator) source {
	if len(loc.Bytes) > 0 {
		return source{data: loc.Bytes}
	}
	ref := strings.TrimSpace(loc.Ref)
	if ref == "" {
		return source{data: p.placeholder, placeholder: true}
	}

	if m := dataURIRe.FindString(ref); m != "" {
		decoded, err := base64.StdEncoding.DecodeString(ref[len(m):])
		if err != nil {
			p.logger.Warn("bad data uri, using placeholder", "err", err)
			return source{data: p.placeholder, placeholder: true}
		}
		return source{data: decoded}
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, ok := p.fetchURL(ctx, ref)
		if !ok {
			return source{data: p.placeholder, placeholder: true}
		}
		return source{data: data, ref: ref}
	}

	if data, err := os.ReadFile(ref); err == nil {
		return source{data: data, ref: ref}
	}

	return source{data: p.placeholder, placeholder: true}
}

// fetchURL downloads ref, refusing bodies whose declared content type is a
// text/structured-text family. The client timeout bounds a hung fetch.
func (p *Pipeline) fetchURL(ctx context.Context, ref string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("media fetch failed", "url", ref, "err", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("media fetch bad status", "url", ref, "status", resp.StatusCode)
		return nil, false
	}
	if ct := resp.Header.Get("Content-Type"); textContentTypes.MatchString(ct) {
		p.logger.Warn("media fetch returned text content", "url", ref, "contentType", ct)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		p.logger.Warn("media fetch read failed", "url", ref, "err", err)
		return nil, false
	}
	return data, true
}
