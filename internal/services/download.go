package services

import (
	"context"
	"io"
	"strings"
	"unicode"

	"github.com/Lllllllleong/docreconstruct/internal/models"
)

// Artifact is a reconstructed document ready to stream.
type Artifact struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// DownloadResponder opens the artifact of an authorized, completed document.
type DownloadResponder struct {
	artifacts ArtifactStore
}

func NewDownloadResponder(artifacts ArtifactStore) *DownloadResponder {
	return &DownloadResponder{artifacts: artifacts}
}

func (d *DownloadResponder) Open(ctx context.Context, doc *models.Document) (*Artifact, error) {
	if !doc.Ready() {
		return nil, models.ErrNotReady
	}
	body, size, err := d.artifacts.Open(ctx, doc.ResultLocation)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    DownloadFilename(doc.OriginalFilename),
		ContentType: "application/pdf",
		Size:        size,
		Body:        body,
	}, nil
}

// DownloadFilename derives the attachment name from the uploaded filename:
// a trailing ".pdf" (any case) is replaced by "-reconstructed.pdf".
// Characters that would break a quoted header value become "_".
func DownloadFilename(original string) string {
	base := original
	if len(base) >= 4 && strings.EqualFold(base[len(base)-4:], ".pdf") {
		base = base[:len(base)-4]
	}
	base = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, base)
	if base == "" {
		base = "document"
	}
	return base + "-reconstructed.pdf"
}
