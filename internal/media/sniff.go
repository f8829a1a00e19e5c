package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"wabot/internal/domain"
)

// MimeSniffer detects content types from payload bytes. Caller-supplied
// extensions are never consulted.
type MimeSniffer struct{}

// Detect sniffs data. Unrecognized content comes back as
// application/octet-stream with a "bin" extension.
func (MimeSniffer) Detect(data []byte) domain.FileType {
	if len(data) == 0 {
		return domain.FileType{Mime: "application/octet-stream", Ext: "bin"}
	}
	mt := mimetype.Detect(data)
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		ext = "bin"
	}
	// Strip parameters so kind classification sees the bare family.
	mime := mt.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return domain.FileType{Mime: mime, Ext: ext}
}
