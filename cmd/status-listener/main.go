package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docreconstruct/internal/api"
	"github.com/Lllllllleong/docreconstruct/internal/app"
	"github.com/Lllllllleong/docreconstruct/internal/config"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	handler func(context.Context, cloudevents.Event) error
	once    sync.Once
	initErr error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	functions.CloudEvent("HandleStatusEvent", handleStatusEvent)
}

// main is required by the Go Functions Framework.
func main() {}

func handleStatusEvent(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg, err := config.LoadListener()
		if err != nil {
			initErr = err
			return
		}
		a, err := app.NewListener(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handler = api.StatusEventHandler(a.Documents)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}
	return handler(ctx, e)
}
