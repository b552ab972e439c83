package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docreconstruct/internal/app"
	"github.com/Lllllllleong/docreconstruct/internal/config"
)

var (
	instance *app.App
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	functions.HTTP("HandleDocumentsAPI", handleDocumentsAPI)
}

// main is required by the Go Functions Framework.
func main() {}

func handleDocumentsAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var cfg *config.Config
		if cfg, initErr = config.Load(); initErr != nil {
			return
		}
		instance, initErr = app.New(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("CRITICAL: Documents API initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	instance.Handler.ServeHTTP(w, r)
}
