package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// pubsubEnvelope is the data of a Pub/Sub messagePublished CloudEvent.
type pubsubEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeStatusEvent reads a status update from CloudEvent data, unwrapping a
// Pub/Sub envelope when present.
func DecodeStatusEvent(data []byte) (models.StatusUpdate, error) {
	var env pubsubEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Message.Data) > 0 {
		data = env.Message.Data
	}
	var update models.StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return models.StatusUpdate{}, fmt.Errorf("failed to decode status update: %w", err)
	}
	if update.DocumentID == "" || update.Status == "" {
		return models.StatusUpdate{}, fmt.Errorf("status update needs documentId and status")
	}
	return update, nil
}

// StatusEventHandler applies status CloudEvents. Events that can never succeed
// are acknowledged so the platform does not redeliver them; other failures are
// returned for retry.
func StatusEventHandler(docs *services.DocumentService) func(context.Context, cloudevents.Event) error {
	return func(ctx context.Context, e cloudevents.Event) error {
		logCtx := slog.With("eventId", e.ID(), "eventType", e.Type())

		update, err := DecodeStatusEvent(e.Data())
		if err != nil {
			logCtx.Error("Dropping undecodable status event.", "error", err, "data", string(e.Data()))
			return nil
		}
		_, err = docs.Transition(ctx, update.Transition(time.Now().UTC()))
		switch {
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFound):
			logCtx.Warn("Acknowledging status event that cannot be applied.", "documentId", update.DocumentID, "error", err)
			return nil
		case err != nil:
			return err
		}
		return nil
	}
}
