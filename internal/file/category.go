package file

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Category is the coarse file kind. It doubles as the storage partition.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVoice    Category = "voice"
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
)

// Categories lists every supported category.
var Categories = []Category{CategoryImage, CategoryVoice, CategoryDocument, CategoryVideo}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryImage, CategoryVoice, CategoryDocument, CategoryVideo:
		return true
	}
	return false
}

var mimeCategories = map[string]Category{
	"image/jpeg":    CategoryImage,
	"image/png":     CategoryImage,
	"image/gif":     CategoryImage,
	"image/webp":    CategoryImage,
	"image/bmp":     CategoryImage,
	"image/svg+xml": CategoryImage,

	"audio/mpeg":  CategoryVoice,
	"audio/mp3":   CategoryVoice,
	"audio/wav":   CategoryVoice,
	"audio/x-wav": CategoryVoice,
	"audio/wave":  CategoryVoice,
	"audio/ogg":   CategoryVoice,
	"audio/mp4":   CategoryVoice,
	"audio/x-m4a": CategoryVoice,
	"audio/aac":   CategoryVoice,
	"audio/flac":  CategoryVoice,
	"audio/opus":  CategoryVoice,
	"audio/webm":  CategoryVoice,

	"application/pdf":               CategoryDocument,
	"application/msword":            CategoryDocument,
	"application/vnd.ms-excel":      CategoryDocument,
	"application/vnd.ms-powerpoint": CategoryDocument,
	"application/rtf":               CategoryDocument,
	"text/plain":                    CategoryDocument,
	"text/csv":                      CategoryDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   CategoryDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         CategoryDocument,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": CategoryDocument,
	"application/vnd.oasis.opendocument.text":                                   CategoryDocument,

	"video/mp4":        CategoryVideo,
	"video/quicktime":  CategoryVideo,
	"video/x-msvideo":  CategoryVideo,
	"video/x-matroska": CategoryVideo,
	"video/webm":       CategoryVideo,
}

var extensionCategories = map[string]Category{
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".png":  CategoryImage,
	".gif":  CategoryImage,
	".webp": CategoryImage,
	".bmp":  CategoryImage,
	".svg":  CategoryImage,

	".mp3":  CategoryVoice,
	".wav":  CategoryVoice,
	".ogg":  CategoryVoice,
	".oga":  CategoryVoice,
	".m4a":  CategoryVoice,
	".aac":  CategoryVoice,
	".flac": CategoryVoice,
	".opus": CategoryVoice,

	".pdf":  CategoryDocument,
	".doc":  CategoryDocument,
	".docx": CategoryDocument,
	".txt":  CategoryDocument,
	".xls":  CategoryDocument,
	".xlsx": CategoryDocument,
	".ppt":  CategoryDocument,
	".pptx": CategoryDocument,
	".csv":  CategoryDocument,
	".rtf":  CategoryDocument,
	".odt":  CategoryDocument,

	".mp4":  CategoryVideo,
	".mov":  CategoryVideo,
	".avi":  CategoryVideo,
	".mkv":  CategoryVideo,
	".webm": CategoryVideo,
	".m4v":  CategoryVideo,
}

// Classify maps an upload to its category. The declared MIME type wins over
// the extension; anything in neither table is ErrUnsupportedType.
func Classify(filename, mimeType string) (Category, error) {
	if c, ok := mimeCategories[normalizeMIME(mimeType)]; ok {
		return c, nil
	}
	if c, ok := extensionCategories[extension(filename)]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, filename, mimeType)
}

func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
}
