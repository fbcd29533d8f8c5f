package http

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vadim/neo-inbox/internal/domain/direct/service"
)

// MaxUploadSize is the default maximum attachment size (25MB)
const MaxUploadSize = 25 << 20

// attachment is a parsed multipart message with an optional file
type attachment struct {
	Content string
	File    *service.MediaFile
	file    multipart.File
}

func (a *attachment) Close() {
	if a.file != nil {
		a.file.Close()
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// parseAttachment reads the "content" field and the optional "file" part
func parseAttachment(w http.ResponseWriter, r *http.Request, maxSize int64) (*attachment, error) {
	// Limit request body size
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, fmt.Errorf("file too large or invalid multipart form")
	}

	att := &attachment{Content: r.FormValue("content")}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return att, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid file in request")
	}

	contentType := header.Header.Get("Content-Type")
	if !isAllowedMediaType(contentType) {
		file.Close()
		return nil, fmt.Errorf("unsupported media type: %s", contentType)
	}

	att.file = file
	att.File = &service.MediaFile{
		Reader:      file,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	}
	return att, nil
}

// isAllowedMediaType checks if the content type is allowed for upload
func isAllowedMediaType(contentType string) bool {
	allowed := []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"video/mp4",
		"video/quicktime",
		"audio/mpeg",
		"audio/ogg",
		"application/pdf",
	}

	for _, a := range allowed {
		if strings.EqualFold(contentType, a) {
			return true
		}
	}
	return false
}
