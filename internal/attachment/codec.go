// Package attachment converts user-supplied images to the text-safe form the
// model request and the persisted history carry, and back.
package attachment

import (
	"encoding/base64"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedType = errors.New("attachment: only image files are supported")
	ErrEmpty           = errors.New("attachment: empty file")
	ErrMalformed       = errors.New("attachment: malformed payload")
)

// Payload is an encoded image. Data is standard base64 without a data URL
// prefix.
type Payload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// IsImage reports whether a media type (parameters allowed) is image/*.
func IsImage(mediaType string) bool {
	return strings.HasPrefix(normalize(mediaType), "image/")
}

// Encode validates and base64-encodes raw. An empty declared type is sniffed
// from the content; a declared non-image type is rejected even when the bytes
// look like an image.
func Encode(declaredType string, raw []byte) (*Payload, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	mt := normalize(declaredType)
	if mt == "" {
		mt = normalize(mimetype.Detect(raw).String())
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, errors.Wrapf(ErrUnsupportedType, "got %q", mt)
	}
	return &Payload{MimeType: mt, Data: base64.StdEncoding.EncodeToString(raw)}, nil
}

// Decode returns the raw bytes.
func (p Payload) Decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return raw, nil
}

// Validate re-checks the media type of a payload that did not come from
// Encode (e.g. one posted by a client).
func (p Payload) Validate() error {
	if !IsImage(p.MimeType) {
		return errors.Wrapf(ErrUnsupportedType, "got %q", p.MimeType)
	}
	if p.Data == "" {
		return ErrEmpty
	}
	return nil
}

// DataURL renders the payload so it can be used directly as an image source.
func (p Payload) DataURL() string {
	return "data:" + p.MimeType + ";base64," + p.Data
}

// ParseDataURL is the inverse of DataURL. Only base64 data URLs are accepted.
func ParseDataURL(s string) (*Payload, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "missing data: prefix")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "missing comma")
	}
	mt, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "not base64 encoded")
	}
	p := &Payload{MimeType: normalize(mt), Data: data}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromClient accepts either a data URL or bare base64 with a separate media
// type, as browsers send both forms.
func FromClient(mediaType, data string) (*Payload, error) {
	if strings.HasPrefix(data, "data:") {
		p, err := ParseDataURL(data)
		if err != nil {
			return nil, err
		}
		if mediaType != "" && !IsImage(mediaType) {
			return nil, errors.Wrapf(ErrUnsupportedType, "got %q", mediaType)
		}
		return p, nil
	}
	p := &Payload{MimeType: normalize(mediaType), Data: data}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := p.Decode(); err != nil {
		return nil, err
	}
	return p, nil
}

func normalize(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return strings.ToLower(mediaType)
}
