package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/extractionjobs/internal/models"
	"github.com/Lllllllleong/extractionjobs/internal/services"
)

// maxRequestBytes caps a submission body; it only ever carries a few URIs.
const maxRequestBytes = 64 << 10

var (
	submitterInstance *services.SubmitterFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleSubmitExtraction", handleSubmitExtraction)
}

// main is required by the Go Functions Framework.
func main() {}

// errorResponse is the JSON body returned for failed submissions.
type errorResponse struct {
	JobID  string           `json:"jobId,omitempty"`
	Status models.JobStatus `json:"status,omitempty"`
	Error  string           `json:"error"`
}

// handleSubmitExtraction is the HTTP handler for new extraction requests.
func handleSubmitExtraction(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		submitterInstance, initErr = services.NewSubmitter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Submitter initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.SubmitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := submitterInstance.Process(r.Context(), &req)
	if err != nil {
		// The specific error is already logged inside the Process method.
		body := errorResponse{Error: err.Error()}
		if res != nil {
			body.JobID, body.Status = res.JobID, res.Status
		}
		writeJSON(w, statusForError(err), body)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEngineRejected):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
