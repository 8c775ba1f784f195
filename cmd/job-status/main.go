package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/services"
)

var (
	statusInstance *services.StatusFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleGetJobStatus", handleGetJobStatus)
}

func main() {}

// handleGetJobStatus serves GET ?jobId=ID or GET ?jobIds=ID1,ID2.
func handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		statusInstance, initErr = services.NewStatus(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Status service initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	var (
		res any
		err error
	)
	if ids := query.Get("jobIds"); ids != "" {
		res, err = statusInstance.ProcessBatch(r.Context(), strings.Split(ids, ","))
	} else {
		res, err = statusInstance.Process(r.Context(), query.Get("jobId"))
	}

	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Internal Server Error: lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
