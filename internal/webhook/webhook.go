package webhook

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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/shipway/internal/activation"
	"github.com/schaermu/shipway/internal/config"
	"github.com/schaermu/shipway/internal/deploy"
)

// Signature and event headers expected on incoming webhook requests.
const (
	signatureHeader = "X-Shipway-Signature-256"
	eventHeader     = "X-Shipway-Event"
)

// PublishEvent represents the payload a CI system posts when a new
// artifact version is ready to deploy.
type PublishEvent struct {
	Version string `json:"version"`
}

// Server implements the deploy webhook HTTP server
type Server struct {
	cfg    *config.Config
	engine *deploy.Engine
	logger *slog.Logger
	secret []byte

	deployMu       sync.Mutex // guards the three fields below
	deployRunning  bool       // whether a deploy is currently in progress
	deployPending  bool       // whether another deploy is needed after the current one
	pendingVersion string     // version for the queued re-run

	debounce *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, engine *deploy.Engine, logger *slog.Logger) (*Server, error) {
	// Load webhook secret from file
	secret, err := os.ReadFile(cfg.Serve.WebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))

	s := &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		secret: secret,
	}

	// Initialize debouncer with 2 second delay
	s.debounce = &debouncer{
		delay: 2 * time.Second,
	}

	return s, nil
}

// Start starts the webhook HTTP server. When the process was started via
// systemd socket activation the activated listener is used instead of
// binding the configured address.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)

	server := &http.Server{
		Addr:              s.cfg.Serve.ListenAddr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	listeners, err := activation.Listeners()
	if err != nil {
		return fmt.Errorf("failed to check socket activation: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		var err error
		if len(listeners) > 0 {
			s.logger.Info("webhook server starting on activated socket", "addr", listeners[0].Addr().String())
			err = server.Serve(listeners[0])
		} else {
			s.logger.Info("webhook server starting", "addr", s.cfg.Serve.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWebhook handles incoming publish webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	// Verify signature
	signature := r.Header.Get(signatureHeader)
	if !s.verifySignature(body, signature) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	// Parse event type
	eventType := r.Header.Get(eventHeader)
	s.logger.Info("received webhook", "event", eventType)

	// Check if event type is allowed
	if !s.isEventAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for deploy\n")
		return
	}

	// Parse publish event
	var event PublishEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	s.logger.Info("webhook accepted", "event", eventType, "version", event.Version)

	// Trigger debounced deploy
	s.debounce.trigger(func() {
		s.performDeploy(context.Background(), event.Version)
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Deploy triggered\n")
}

// verifySignature verifies the webhook HMAC signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// Signature format: sha256=<hex>
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	// Compute expected signature
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEventAllowed checks if the event type is in the allowed list
func (s *Server) isEventAllowed(eventType string) bool {
	if len(s.cfg.Serve.AllowedEvents) == 0 {
		return true // no filter configured
	}

	for _, allowed := range s.cfg.Serve.AllowedEvents {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// performDeploy executes the deploy with single-flight semantics. If a
// deploy is already in progress, at most one additional run is queued with
// the most recent version; further concurrent requests only overwrite the
// queued version instead of piling up goroutines.
func (s *Server) performDeploy(ctx context.Context, version string) {
	s.deployMu.Lock()
	if s.deployRunning {
		s.deployPending = true
		s.pendingVersion = version
		s.deployMu.Unlock()
		s.logger.Info("deploy already in progress, queuing pending re-run", "version", version)
		return
	}
	s.deployRunning = true
	s.deployMu.Unlock()

	for {
		s.logger.Info("performing deploy", "version", version)

		if releaseID, err := s.engine.Run(ctx, version); err != nil {
			s.logger.Error("deploy failed", "error", err)
		} else {
			s.logger.Info("deploy completed successfully", "release", releaseID)
		}

		// Atomically check whether another deploy was requested while we
		// were running. If not, release the running slot and stop; if yes,
		// clear the flag and loop to service that one pending request.
		s.deployMu.Lock()
		if !s.deployPending {
			s.deployRunning = false
			s.deployMu.Unlock()
			break
		}
		s.deployPending = false
		version = s.pendingVersion
		s.deployMu.Unlock()

		s.logger.Info("re-running deploy due to pending request", "version", version)
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
