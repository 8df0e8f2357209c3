package multimodal

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/BaSui01/claudegate/types"
)

// ImageFormat is an image media type accepted by the upstream API.
type ImageFormat string

const (
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatGIF  ImageFormat = "image/gif"
	ImageFormatWebP ImageFormat = "image/webp"
)

// MaxImageBytes is the decoded-size ceiling for a single image.
const MaxImageBytes int64 = 5 * 1024 * 1024

// VisionConfig configures image validation.
type VisionConfig struct {
	MaxImageSize   int64         `json:"max_image_size"` // decoded bytes
	AllowedFormats []ImageFormat `json:"allowed_formats"`
}

// DefaultVisionConfig returns the upstream limits: 5MB, JPEG/PNG/GIF/WebP.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MaxImageSize:   MaxImageBytes,
		AllowedFormats: []ImageFormat{ImageFormatJPEG, ImageFormatPNG, ImageFormatGIF, ImageFormatWebP},
	}
}

func (c VisionConfig) allows(f ImageFormat) bool {
	for _, a := range c.AllowedFormats {
		if a == f {
			return true
		}
	}
	return false
}

func (c VisionConfig) maxSize() int64 {
	if c.MaxImageSize <= 0 {
		return MaxImageBytes
	}
	return c.MaxImageSize
}

// Image is a validated inline image ready to send upstream.
type Image struct {
	MediaType ImageFormat
	Data      string // canonical standard base64
	Size      int64  // decoded bytes
}

// =============================================================================
// 🖼️ 内联图片校验
// =============================================================================

// ValidateInline checks a declared media type and base64 payload.
//
// Order matters: the format is checked first, then the size estimated from
// the encoded length, and only then is the payload decoded. An oversized
// image is never decoded.
func (c VisionConfig) ValidateInline(mediaType, b64 string) (*Image, error) {
	declared := NormalizeMediaType(mediaType)
	if !c.allows(declared) {
		return nil, types.NewValidationError(types.ReasonUnsupportedImageFormat,
			fmt.Sprintf("media type %q not allowed", mediaType))
	}

	payload := stripWhitespace(b64)
	if payload == "" {
		return nil, types.NewValidationError(types.ReasonInvalidImage, "empty image payload")
	}
	if est := estimateDecodedLen(payload); est > c.maxSize() {
		return nil, types.NewValidationError(types.ReasonImageTooLarge,
			fmt.Sprintf("image is about %d bytes, limit %d", est, c.maxSize()))
	}

	raw, err := decodeBase64(payload)
	if err != nil {
		return nil, types.NewValidationError(types.ReasonInvalidImage, "payload is not valid base64").WithCause(err)
	}
	return c.ValidateBytes(raw)
}

// ValidateBytes checks raw image bytes, e.g. from a fetched URL. The bytes
// decide the media type: a PNG labelled image/jpeg is sent as image/png.
func (c VisionConfig) ValidateBytes(raw []byte) (*Image, error) {
	if int64(len(raw)) > c.maxSize() {
		return nil, types.NewValidationError(types.ReasonImageTooLarge,
			fmt.Sprintf("image is %d bytes, limit %d", len(raw), c.maxSize()))
	}
	sniffed := detectImageFormat(raw)
	switch {
	case sniffed == "":
		return nil, types.NewValidationError(types.ReasonInvalidImage, "content is not a recognised image")
	case !c.allows(sniffed):
		return nil, types.NewValidationError(types.ReasonUnsupportedImageFormat,
			fmt.Sprintf("content is %s", sniffed))
	}
	return &Image{
		MediaType: sniffed,
		Data:      base64.StdEncoding.EncodeToString(raw),
		Size:      int64(len(raw)),
	}, nil
}

// =============================================================================
// 🔗 data: URL 解析
// =============================================================================

// ParseDataURL splits "data:image/png;base64,AAAA" into media type and payload.
// Only base64 data URLs are accepted.
func ParseDataURL(raw string) (mediaType, data string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "data:")
	if !ok {
		return "", "", types.NewValidationError(types.ReasonInvalidImage, "not a data url")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", types.NewValidationError(types.ReasonInvalidImage, "data url has no payload")
	}
	params := strings.Split(header, ";")
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return "", "", types.NewValidationError(types.ReasonInvalidImage, "data url is not base64")
	}
	return strings.TrimSpace(params[0]), payload, nil
}

// IsDataURL reports whether s looks like a data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// NormalizeMediaType lowercases and maps common aliases.
func NormalizeMediaType(mt string) ImageFormat {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpg", "image/pjpeg":
		return ImageFormatJPEG
	case "image/x-png":
		return ImageFormatPNG
	}
	return ImageFormat(mt)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func stripWhitespace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// estimateDecodedLen is exact for well-formed padded or unpadded base64.
func estimateDecodedLen(s string) int64 {
	n := int64(len(s))
	pad := int64(0)
	if strings.HasSuffix(s, "==") {
		pad = 2
	} else if strings.HasSuffix(s, "=") {
		pad = 1
	}
	return (n*3)/4 - pad
}

func decodeBase64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// detectImageFormat reads magic bytes. Unknown content yields "".
func detectImageFormat(data []byte) ImageFormat {
	switch {
	case len(data) >= 8 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A:
		return ImageFormatPNG
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return ImageFormatJPEG
	case len(data) >= 6 && string(data[:6]) == "GIF87a" || len(data) >= 6 && string(data[:6]) == "GIF89a":
		return ImageFormatGIF
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return ImageFormatWebP
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	case len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*"):
		return "image/tiff"
	}
	return ""
}
