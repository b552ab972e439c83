package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docreconstruct/internal/models"
	"google.golang.org/api/googleapi"
)

const gcsScheme = "gs://"

// ErrObjectExists is returned by SaveToGCSAtomically when the object was
// already written by an earlier attempt.
var ErrObjectExists = errors.New("object already exists")

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return bucket, object, nil
}

// GCSArtifacts stores uploaded sources in one bucket and reads artifacts from
// any gs:// location the processing workflow reports.
type GCSArtifacts struct {
	client       *storage.Client
	sourceBucket string

	maxRetries     int
	initialBackoff time.Duration
}

func NewGCSArtifacts(client *storage.Client, sourceBucket string) *GCSArtifacts {
	return &GCSArtifacts{
		client:         client,
		sourceBucket:   sourceBucket,
		maxRetries:     4,
		initialBackoff: time.Second,
	}
}

func (g *GCSArtifacts) SourceLocation(documentID string) string {
	return fmt.Sprintf("%s%s/sources/%s.pdf", gcsScheme, g.sourceBucket, documentID)
}

// Save uploads data to location, retrying transient failures with exponential
// backoff. A write that lost the precondition race counts as success.
func (g *GCSArtifacts) Save(ctx context.Context, location string, data []byte) error {
	bucket, object, err := ParseGCSURI(location)
	if err != nil {
		return err
	}

	backoff := g.initialBackoff
	var lastErr error
	for i := 0; i < g.maxRetries; i++ {
		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		err := SaveToGCSAtomically(writeCtx, g.client.Bucket(bucket), object, data)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectExists) {
			slog.Info("Object already exists. Skipping upload.", "gcsObject", location)
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", location,
			"attempt", i+1,
			"maxRetries", g.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", location, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", location, lastErr)
}

// Open streams the object at location. A missing object maps to
// models.ErrArtifactMissing.
func (g *GCSArtifacts) Open(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	bucket, object, err := ParseGCSURI(location)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", models.ErrArtifactMissing, err)
	}
	reader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrArtifactMissing, location)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get GCS object reader for %s: %w", location, err)
	}
	return reader, reader.Attrs.Size, nil
}
