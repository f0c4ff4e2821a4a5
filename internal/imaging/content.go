package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp decoding for rerouted uploads

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
)

// Format is the declared format of an embedded image. The document embedder
// understands these five; anything else is rerouted through PNG.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatSVG  Format = "svg"
)

// Content is a decoded, orientation-fixed, resized image ready for
// embedding: the bytes, the declared format, and the target box in pixels.
type Content struct {
	Data   []byte
	Format Format
	Width  int
	Height int
}

// formatForMIME maps a mime type onto an embeddable format. ok=false means
// the bytes must be rerouted through PNG conversion.
func formatForMIME(mime string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return FormatPNG, true
	case "image/jpeg", "image/jpg":
		return FormatJPEG, true
	case "image/gif":
		return FormatGIF, true
	case "image/bmp":
		return FormatBMP, true
	case "image/svg+xml":
		return FormatSVG, true
	}
	return "", false
}

// Prepare decodes raw bytes, applies EXIF auto-orientation, resizes to fit
// inside boxW x boxH, and re-encodes. The on-disk original is never touched;
// this is a read-side transformation. Unrecognized mime types are converted
// to PNG.
func Prepare(data []byte, mime string, boxW, boxH int) (*Content, error) {
	format, known := formatForMIME(mime)

	// SVG is embedded verbatim; there is nothing to orient or resize.
	if known && format == FormatSVG {
		return &Content{Data: data, Format: FormatSVG, Width: boxW, Height: boxH}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMedia, err)
	}
	fitted := imaging.Fit(img, boxW, boxH, imaging.Lanczos)

	out := FormatPNG
	enc := imaging.PNG
	if known {
		switch format {
		case FormatJPEG:
			out, enc = FormatJPEG, imaging.JPEG
		case FormatGIF:
			out, enc = FormatGIF, imaging.GIF
		case FormatBMP:
			out, enc = FormatBMP, imaging.BMP
		}
	} else {
		logging.Images("rerouting %q through png conversion", mime)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, enc); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	bounds := fitted.Bounds()
	return &Content{
		Data:   buf.Bytes(),
		Format: out,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// ParseDataURL splits a data: URL (signature images travel this way) into
// mime type and decoded bytes.
func ParseDataURL(dataURL string) (string, []byte, error) {
	const scheme = "data:"
	if !strings.HasPrefix(dataURL, scheme) {
		return "", nil, fmt.Errorf("%w: not a data url", domain.ErrValidation)
	}
	rest := dataURL[len(scheme):]
	sep := strings.IndexByte(rest, ',')
	if sep < 0 {
		return "", nil, fmt.Errorf("%w: malformed data url", domain.ErrValidation)
	}
	meta, payload := rest[:sep], rest[sep+1:]

	mime := meta
	encoding := ""
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		mime = meta[:i]
		encoding = meta[i+1:]
	}
	if mime == "" {
		mime = "text/plain"
	}

	if strings.Contains(encoding, "base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: bad base64 payload: %v", domain.ErrValidation, err)
		}
		return mime, data, nil
	}
	return mime, []byte(payload), nil
}

// DecodeBase64 decodes a raw (non-data-url) base64 image payload.
func DecodeBase64(payload string) ([]byte, error) {
	// Tolerate clients that send a full data url in the base64 field.
	if strings.HasPrefix(payload, "data:") {
		_, data, err := ParseDataURL(payload)
		return data, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 payload: %v", domain.ErrValidation, err)
	}
	return data, nil
}
