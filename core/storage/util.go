package storage

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

var filenameSanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// SanitizeFilename strips characters that are unsafe to use as a storage key
// component, preserving the extension.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	filename = filenameSanitizeRegex.ReplaceAllString(filename, "")
	if filename == "" {
		filename = "file"
	}
	return filename
}

// GetExtension returns the lowercase extension (including the leading dot)
// of the uploaded file's name.
func GetExtension(fh *multipart.FileHeader) string {
	return strings.ToLower(filepath.Ext(fh.Filename))
}

// GetMIMEType sniffs the uploaded file's content type by reading its
// first 512 bytes, falling back to the extension-derived type.
func GetMIMEType(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToOpenFile, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		if ct := mimeByExtension(fh.Filename); ct != "" {
			return ct, nil
		}
		return "application/octet-stream", nil
	}

	return http.DetectContentType(buf[:n]), nil
}

func mimeByExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return ""
	}
}
