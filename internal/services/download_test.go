package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Lllllllleong/docreconstruct/internal/models"
)

func TestDownloadFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report-reconstructed.pdf"},
		{"REPORT.PDF", "REPORT-reconstructed.pdf"},
		{"notes", "notes-reconstructed.pdf"},
		{"archive.pdf.pdf", "archive.pdf-reconstructed.pdf"},
		{"my \"quoted\".pdf", "my _quoted_-reconstructed.pdf"},
		{"back\\slash.pdf", "back_slash-reconstructed.pdf"},
		{"line\nbreak.pdf", "line_break-reconstructed.pdf"},
		{".pdf", "document-reconstructed.pdf"},
		{"", "document-reconstructed.pdf"},
		{"résumé.pdf", "résumé-reconstructed.pdf"},
	}
	for _, tt := range tests {
		if got := DownloadFilename(tt.in); got != tt.want {
			t.Errorf("DownloadFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDownloadResponderOpen(t *testing.T) {
	artifacts, err := NewFileArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArtifacts failed: %v", err)
	}
	ctx := context.Background()
	if err := artifacts.Save(ctx, "file://results/d1.pdf", []byte("%PDF-result")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	d := NewDownloadResponder(artifacts)

	doc := &models.Document{ID: "d1", OriginalFilename: "paper.pdf", Status: models.StatusCompleted, ResultLocation: "file://results/d1.pdf"}
	a, err := d.Open(ctx, doc)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Body.Close()
	body, _ := io.ReadAll(a.Body)
	if string(body) != "%PDF-result" || a.Size != int64(len(body)) {
		t.Errorf("unexpected body %q size %d", body, a.Size)
	}
	if a.ContentType != "application/pdf" || a.Filename != "paper-reconstructed.pdf" {
		t.Errorf("unexpected artifact headers: %+v", a)
	}

	missing := &models.Document{ID: "d2", Status: models.StatusCompleted, ResultLocation: "file://results/d2.pdf"}
	if _, err := d.Open(ctx, missing); !errors.Is(err, models.ErrArtifactMissing) {
		t.Errorf("Expected ErrArtifactMissing, got %v", err)
	}
	escaping := &models.Document{ID: "d3", Status: models.StatusCompleted, ResultLocation: "file://../etc/passwd"}
	if _, err := d.Open(ctx, escaping); !errors.Is(err, models.ErrArtifactMissing) {
		t.Errorf("Expected ErrArtifactMissing for escaping path, got %v", err)
	}
	pending := &models.Document{ID: "d4", Status: models.StatusPending}
	if _, err := d.Open(ctx, pending); !errors.Is(err, models.ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
}

func TestFileArtifactsSaveIsWriteOnce(t *testing.T) {
	artifacts, _ := NewFileArtifacts(t.TempDir())
	ctx := context.Background()
	loc := artifacts.SourceLocation("doc-1")
	if err := artifacts.Save(ctx, loc, []byte("first")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := artifacts.Save(ctx, loc, []byte("second")); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	body, _, err := artifacts.Open(ctx, loc)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "first" {
		t.Errorf("Expected original content, got %q", data)
	}
}
