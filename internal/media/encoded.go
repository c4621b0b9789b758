package media

import "fmt"

type FrameType int

const (
	FrameTypeEmpty FrameType = iota
	FrameTypeKey
	FrameTypeDelta
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeEmpty:
		return "empty"
	case FrameTypeKey:
		return "key"
	case FrameTypeDelta:
		return "delta"
	}
	return fmt.Sprintf("FrameType(%d)", int(t))
}

// HasKeyFrame reports whether a key frame was requested.
func HasKeyFrame(types []FrameType) bool {
	for _, t := range types {
		if t == FrameTypeKey {
			return true
		}
	}
	return false
}

type CodecType int

const (
	CodecH264 CodecType = iota + 1
)

func (c CodecType) String() string {
	if c == CodecH264 {
		return "H264"
	}
	return fmt.Sprintf("CodecType(%d)", int(c))
}

// MimeType returns the codec's platform MIME type.
func (c CodecType) MimeType() string {
	if c == CodecH264 {
		return "video/avc"
	}
	return ""
}

// EncodedImage is one access unit of an H.264 Annex B stream.
type EncodedImage struct {
	Data []byte

	EncodedWidth  int
	EncodedHeight int

	// Timing recovered from the submitted frame.
	TimestampUs  int64
	RTPTimestamp uint32
	NTPTimeMs    int64
	Rotation     Rotation

	FrameType FrameType

	// Quantizer, -1 if unknown.
	QP int
}

func (img *EncodedImage) IsKey() bool {
	return img.FrameType == FrameTypeKey
}
