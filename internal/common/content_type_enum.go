package common

import (
	"path/filepath"
	"strings"
)

// MediaFileType is the kind of media attached to a post, story or avatar.
type MediaFileType string

const (
	MediaFileTypeImage MediaFileType = "image"
	MediaFileTypeVideo MediaFileType = "video"
	MediaFileTypeText  MediaFileType = "text"
)

// String returns the string representation
func (mft MediaFileType) String() string {
	return string(mft)
}

// IsValid reports whether mft can back an uploaded file.
func (mft MediaFileType) IsValid() bool {
	return mft == MediaFileTypeImage || mft == MediaFileTypeVideo
}

func DetectFileType(mimeType string) MediaFileType {
	lowerMimeType := strings.ToLower(mimeType)
	if strings.HasPrefix(lowerMimeType, "image/") {
		return MediaFileTypeImage
	}
	if strings.HasPrefix(lowerMimeType, "video/") {
		return MediaFileTypeVideo
	}
	return MediaFileTypeImage
}

var extensionMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// MIMEFromFileName resolves a supported upload's content type from its extension.
func MIMEFromFileName(name string) (string, bool) {
	mime, ok := extensionMIME[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

// MediaTypeFromFileName classifies an upload, rejecting unsupported extensions.
func MediaTypeFromFileName(name string) (MediaFileType, string, error) {
	mime, ok := MIMEFromFileName(name)
	if !ok {
		return "", "", Invalid("unsupported file type %q", filepath.Ext(name))
	}
	return DetectFileType(mime), mime, nil
}
