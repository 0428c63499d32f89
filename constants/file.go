package constants

import (
	"mime"
	"path/filepath"
	"strings"
)

// Document formats understood by the pipeline.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	TXT   = "TXT"
)

// FileTypes holds the formats the pipeline accepts.
var FileTypes = []string{PDF, IMAGE, TXT}

var extFormats = map[string]string{
	"pdf":  PDF,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"png":  IMAGE,
	"gif":  IMAGE,
	"bmp":  IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"webp": IMAGE,
	"heic": IMAGE,
	"heif": IMAGE,
	"txt":  TXT,
}

// AllowedExtensions holds the extensions picked up in directory mode.
var AllowedExtensions = func() map[string]struct{} {
	m := make(map[string]struct{}, len(extFormats))
	for ext := range extFormats {
		m[ext] = struct{}{}
	}
	return m
}()

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsHEICExt reports whether ext is a HEIC/HEIF extension.
func IsHEICExt(ext string) bool {
	ext = NormalizeExt(ext)
	return ext == "heic" || ext == "heif"
}

// FormatFor resolves the document format from the declared MIME type,
// falling back to the filename extension. Empty string means unsupported.
func FormatFor(mimeType, filename string) string {
	mt, _, _ := mime.ParseMediaType(strings.TrimSpace(mimeType))
	switch {
	case mt == "application/pdf":
		return PDF
	case strings.HasPrefix(mt, "image/"):
		return IMAGE
	case mt == "text/plain":
		return TXT
	}
	return extFormats[NormalizeExt(filepath.Ext(filename))]
}

// MIMEFor guesses a MIME type from a filename.
func MIMEFor(filename string) string {
	ext := NormalizeExt(filepath.Ext(filename))
	switch ext {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	case "heic", "heif":
		return "image/" + ext
	case "txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	if f := extFormats[ext]; f == IMAGE {
		return "image/" + ext
	}
	return "application/octet-stream"
}

// Vision attachment limits for the LLM extractor.
const (
	ImageConfidenceThreshold = 50.0     // attach the page image below this text confidence
	MaxVisionBytes           = 20 << 20 // 20 MiB
)
