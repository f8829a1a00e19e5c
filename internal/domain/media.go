package domain

// FileType is a content-sniffing result.
type FileType struct {
	Mime string
	Ext  string
}

// Sniffer detects a payload's content type from its bytes. Implementations
// must never trust caller-supplied extensions.
type Sniffer interface {
	Detect(data []byte) FileType
}

// StickerMeta is pack/author metadata stamped onto a finished sticker.
type StickerMeta struct {
	PackName string
	Author   string
}

// Converters are the external media transcoding functions. They are
// collaborators, not part of this engine: each may return (nil, nil) to
// signal "cannot convert" so the caller can fall through a chain.
type Converters struct {
	ToStickerImage    func(data []byte) ([]byte, error) // "smart" converter, may return nil
	ToWebpImage       func(data []byte) ([]byte, error)
	ToWebpVideo       func(data []byte) ([]byte, error)
	ToCompressedAudio func(data []byte) ([]byte, error) // low-bitrate, may return nil
	ToAudio           func(data []byte) ([]byte, error)
	StampWebpMetadata func(data []byte, meta StickerMeta) ([]byte, error)
}
