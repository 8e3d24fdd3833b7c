package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryAudio    Category = "audio"
)

const (
	MaxImageSize    int64 = 5 * 1024 * 1024
	MaxDocumentSize int64 = 10 * 1024 * 1024
	MaxAudioSize    int64 = 10 * 1024 * 1024
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
	mimeWebP = "image/webp"
	mimeGIF  = "image/gif"
)

type policy struct {
	maxSize int64
	types   map[string]struct{}
}

var policies = map[Category]policy{
	CategoryImage: {
		maxSize: MaxImageSize,
		types:   setOf(mimeJPEG, mimePNG, mimeWebP, mimeGIF),
	},
	CategoryDocument: {
		maxSize: MaxDocumentSize,
		types: setOf(
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"text/plain",
			mimeJPEG,
			mimePNG,
		),
	},
	CategoryAudio: {
		maxSize: MaxAudioSize,
		types:   setOf("audio/webm", "audio/ogg", "audio/mpeg", "audio/wav", "audio/mp4"),
	},
}

// File is an in-memory file picked for upload.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	// Width and Height are known only for decoded images.
	Width  int
	Height int
}

func (f *File) Size() int64 {
	if f == nil {
		return 0
	}

	return int64(len(f.Data))
}

// ContentType returns the declared MIME type without parameters, lower-cased.
func (f *File) ContentType() string {
	if f == nil {
		return ""
	}
	mime, _, _ := strings.Cut(f.MIMEType, ";")

	return strings.ToLower(strings.TrimSpace(mime))
}

type ValidationCode string

const (
	NoFileSelected  ValidationCode = "no_file_selected"
	FileTooLarge    ValidationCode = "file_too_large"
	UnsupportedType ValidationCode = "unsupported_type"
	UnknownCategory ValidationCode = "unknown_category"
)

type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks file against the size and type policy of category.
func Validate(file *File, category Category) error {
	if file == nil || len(file.Data) == 0 {
		return &ValidationError{Code: NoFileSelected, Message: "no file selected"}
	}
	p, ok := policies[category]
	if !ok {
		return &ValidationError{Code: UnknownCategory, Message: fmt.Sprintf("unknown upload category %q", category)}
	}
	if file.Size() > p.maxSize {
		return &ValidationError{
			Code: FileTooLarge,
			Message: fmt.Sprintf("%s is %s, %s files must be at most %s",
				displayName(file), humanize.IBytes(uint64(file.Size())), category, humanize.IBytes(uint64(p.maxSize))),
		}
	}
	if _, ok := p.types[file.ContentType()]; !ok {
		return &ValidationError{
			Code:    UnsupportedType,
			Message: fmt.Sprintf("%s has unsupported type %q for %s uploads", displayName(file), file.ContentType(), category),
		}
	}

	return nil
}

// CategoryFor picks the policy a chat attachment is validated against.
func CategoryFor(mimeType string) Category {
	mime := (&File{MIMEType: mimeType}).ContentType()
	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	default:
		return CategoryDocument
	}
}

func displayName(f *File) string {
	if name := strings.TrimSpace(filepath.Base(f.Name)); name != "" && name != "." {
		return name
	}

	return "file"
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}

	return out
}
