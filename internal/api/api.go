// Package api exposes the PharmFlow HTTP surface: the Twilio inbound webhook
// plus operational endpoints for order lookup and health checks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Default server configuration.
const (
	DefaultAddr         = ":8080"
	DefaultOrderLimit   = 20
	shutdownGracePeriod = 10 * time.Second
)

// Submitter accepts inbound events for processing; implemented by the
// messaging dispatcher.
type Submitter interface {
	Submit(ctx context.Context, ev models.InboundEvent)
}

// OrderDirectory is the store surface the order lookup endpoint needs.
type OrderDirectory interface {
	GetContact(phone string) (*models.Contact, error)
	ListOrders(contactID string, limit int) ([]models.Order, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the HTTP endpoints.
type Server struct {
	dispatcher Submitter
	directory  OrderDirectory
	httpSrv    *http.Server
}

// NewServer creates an API server over the dispatcher and store.
func NewServer(dispatcher Submitter, directory OrderDirectory, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{dispatcher: dispatcher, directory: directory}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/orders", s.ordersHandler)
	mux.HandleFunc("/health", s.healthHandler)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// twilioWebhookHandler converts a Twilio inbound-message callback into an
// inbound event. Twilio retries on non-2xx, so the event is processed
// synchronously and the response is an empty TwiML document either way.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Twilio webhook form parse failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from := r.PostFormValue("From") // "whatsapp:+27821234567"
	if from == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ev := models.InboundEvent{
		From:           from,
		Text:           r.PostFormValue("Body"),
		SelectedOption: r.PostFormValue("ButtonPayload"),
		Time:           time.Now(),
	}
	if mediaURL := r.PostFormValue("MediaUrl0"); mediaURL != "" {
		ev.Attachment = &models.Attachment{
			URL:         mediaURL,
			ContentType: r.PostFormValue("MediaContentType0"),
		}
	}

	s.dispatcher.Submit(r.Context(), ev)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<Response></Response>"))
}

// ordersHandler returns a contact's recent orders. The contact is addressed
// by id (?contact=) or by phone (?phone=).
func (s *Server) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResult("method not allowed"))
		return
	}

	contactID := r.URL.Query().Get("contact")
	if phone := r.URL.Query().Get("phone"); contactID == "" && phone != "" {
		contact, err := s.directory.GetContact(phone)
		if err != nil {
			slog.Error("Orders lookup failed to load contact", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, errorResult("contact lookup failed"))
			return
		}
		if contact == nil {
			writeJSONResponse(w, http.StatusNotFound, errorResult("unknown contact"))
			return
		}
		contactID = contact.ID
	}
	if contactID == "" {
		writeJSONResponse(w, http.StatusBadRequest, errorResult("contact or phone parameter is required"))
		return
	}

	limit := DefaultOrderLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, errorResult("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	orders, err := s.directory.ListOrders(contactID, limit)
	if err != nil {
		slog.Error("Orders lookup failed", "contact", contactID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResult("order lookup failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, ok(orders))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResult("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, ok(nil))
}
