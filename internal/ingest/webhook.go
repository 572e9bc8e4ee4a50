// Package ingest accepts log sets pushed by external producers (CI jobs, log
// shippers, deploy tooling) over authenticated webhooks.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const maxBody = 8 << 20

// Config holds the webhook endpoints.
type Config struct {
	// Endpoints maps producer names to their auth settings.
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint authentication.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256 header).
	// If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the expected JSON body.
type Payload struct {
	LogSetID    string                 `json:"logSetId,omitempty"`
	Logs        []protocol.LogEntry    `json:"logs"`
	Changes     []protocol.ChangeEvent `json:"changes,omitempty"`
	Investigate bool                   `json:"investigate,omitempty"`
}

// Batch is one accepted push.
type Batch struct {
	Endpoint    string
	LogSet      *logsource.LogSet
	Investigate bool
}

// BatchHandler stores or acts on an accepted batch.
type BatchHandler func(ctx context.Context, b Batch) error

// Handler serves POST /api/ingest/{name}.
type Handler struct {
	config  Config
	handler BatchHandler
	logger  *slog.Logger
}

// New creates a new ingest handler.
func New(cfg Config, handler BatchHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "ingest"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		name = extractName(r.URL.Path)
	}
	if name == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown ingest endpoint: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(payload.Logs) == 0 {
		http.Error(w, "logs are required", http.StatusBadRequest)
		return
	}
	if problems := checkLogs(payload.Logs); len(problems) > 0 {
		http.Error(w, "invalid logs: "+strings.Join(problems, "; "), http.StatusBadRequest)
		return
	}

	id := payload.LogSetID
	if id == "" {
		id = name + "-" + uuid.NewString()
	}
	if !logsource.ValidID(id) {
		http.Error(w, "invalid logSetId", http.StatusBadRequest)
		return
	}

	changes := payload.Changes
	if changes == nil {
		changes = []protocol.ChangeEvent{}
	}
	batch := Batch{
		Endpoint:    name,
		LogSet:      &logsource.LogSet{ID: id, Source: logsource.SourceName(id), Logs: payload.Logs, Changes: changes},
		Investigate: payload.Investigate,
	}
	if err := h.handler(r.Context(), batch); err != nil {
		h.logger.Error("ingest handler error", "endpoint", name, "log_set", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("log set ingested", "endpoint", name, "log_set", id, "logs", len(payload.Logs))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "logSetId": id, "logs": len(payload.Logs)})
}

func checkLogs(logs []protocol.LogEntry) []string {
	var problems []string
	for i, l := range logs {
		if l.Service == "" {
			problems = append(problems, fmt.Sprintf("logs[%d]: service is required", i))
		}
		if !l.Level.Valid() {
			problems = append(problems, fmt.Sprintf("logs[%d]: unknown level %q", i, l.Level))
		}
		if len(problems) >= 5 {
			break
		}
	}
	return problems
}

func (h *Handler) authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}

	if endpoint.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return hmac.Equal([]byte(auth), []byte("Bearer "+endpoint.BearerToken))
	}

	// no auth configured (development)
	return true
}

// verifyHMAC checks a "sha256=<hex>" signature.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	expectedMAC, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/ingest/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ComputeSignature generates the HMAC-SHA256 signature a producer must send.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
