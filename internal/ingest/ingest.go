package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadSize bounds the size of a single submitted image.
const MaxUploadSize = 10 << 20

var (
	// ErrInvalidFileType is returned when the declared content type is not an
	// acceptable image type for the given source.
	ErrInvalidFileType = errors.New("invalid file type")
	// ErrFileTooLarge is returned when the file exceeds MaxUploadSize.
	ErrFileTooLarge = errors.New("file too large")
)

// Source identifies how a file was offered.
type Source string

const (
	// SourceDrop is a drag-and-drop file; any image/* type is accepted.
	SourceDrop Source = "drop"
	// SourcePicker is a file-picker selection restricted to PickerTypes.
	SourcePicker Source = "picker"
)

// PickerTypes is the accept list offered by the file picker.
var PickerTypes = []string{"image/jpeg", "image/jpg", "image/png"}

// ParseSource maps a query value to a Source, defaulting to SourcePicker.
func ParseSource(value string) Source {
	if strings.EqualFold(strings.TrimSpace(value), string(SourceDrop)) {
		return SourceDrop
	}
	return SourcePicker
}

// File is an accepted upload held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Preview is the self-contained, embeddable rendition of a File.
type Preview struct {
	MIMEType string
	DataURL  string
}

// Validate checks the declared content type against the rules for source.
func Validate(contentType string, source Source) error {
	mediaType := normalize(contentType)
	if source == SourcePicker {
		for _, allowed := range PickerTypes {
			if mediaType == allowed {
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrInvalidFileType, contentType)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: %q", ErrInvalidFileType, contentType)
	}
	return nil
}

// Ingest validates the declared type, reads the file and builds its preview.
// Nothing is read from r when validation fails.
func Ingest(ctx context.Context, name, contentType string, r io.Reader, source Source) (*File, Preview, error) {
	if err := Validate(contentType, source); err != nil {
		return nil, Preview{}, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, Preview{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, Preview{}, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, Preview{}, err
	}

	file := &File{Name: name, ContentType: normalize(contentType), Data: data}
	return file, NewPreview(file), nil
}

// NewPreview encodes the file as a base64 data URL. The sniffed type is used
// when it is a concrete image type, otherwise the declared one.
func NewPreview(file *File) Preview {
	mimeType := file.ContentType
	if detected := mimetype.Detect(file.Data); strings.HasPrefix(detected.String(), "image/") {
		mimeType = detected.String()
	}
	return Preview{
		MIMEType: mimeType,
		DataURL:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(file.Data),
	}
}

func normalize(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
