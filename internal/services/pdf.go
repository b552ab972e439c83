package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// SourceInfo describes an accepted source PDF.
type SourceInfo struct {
	PageCount int
	SHA256    string
}

// InspectPDF validates data as a PDF and reads its page count.
func InspectPDF(data []byte) (SourceInfo, error) {
	if len(data) == 0 {
		return SourceInfo{}, fmt.Errorf("%w: empty upload", models.ErrInvalidSource)
	}
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), cfg); err != nil {
		return SourceInfo{}, fmt.Errorf("%w: %v", models.ErrInvalidSource, err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("%w: %v", models.ErrInvalidSource, err)
	}
	if pageCount == 0 {
		return SourceInfo{}, fmt.Errorf("%w: no pages", models.ErrInvalidSource)
	}
	sum := sha256.Sum256(data)
	return SourceInfo{PageCount: pageCount, SHA256: hex.EncodeToString(sum[:])}, nil
}
