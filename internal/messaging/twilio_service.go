package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound traffic arrives through TwilioWebhookHandler instead of a live
// socket connection.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService over the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient reduces the recipient to bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio; events arrive via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.events)
	}()

	return nil
}

// SendReply delivers a reply via the Twilio API, attaching media when present.
func (s *TwilioService) SendReply(ctx context.Context, to string, reply *models.Reply) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendReply validation error", "error", err, "to", to)
		return err
	}

	if reply.Media != nil {
		body := reply.Text
		if body == "" {
			body = reply.Media.Caption
		}
		return s.client.SendMediaMessage(ctx, canonicalTo, body, reply.Media.Link)
	}
	return s.client.SendMessage(ctx, canonicalTo, reply.Text)
}

// Events returns the channel of normalized inbound events.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// TwilioWebhookHandler handles inbound Twilio webhook requests. It normalizes
// text, location and media payloads into inbound events.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	if from == "" {
		slog.Warn("Twilio webhook missing From field")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	identity, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	event := models.InboundEvent{Identity: identity, Time: time.Now().Unix()}
	switch {
	case r.FormValue("Latitude") != "" && r.FormValue("Longitude") != "":
		lat, latErr := strconv.ParseFloat(r.FormValue("Latitude"), 64)
		lon, lonErr := strconv.ParseFloat(r.FormValue("Longitude"), 64)
		if latErr != nil || lonErr != nil {
			slog.Warn("Twilio webhook malformed coordinates", "from", identity)
			http.Error(w, "Invalid location", http.StatusBadRequest)
			return
		}
		event.Kind = models.EventKindLocation
		event.Location = &models.LocationPayload{
			Latitude:    lat,
			Longitude:   lon,
			Description: r.FormValue("Address"),
		}

	case r.FormValue("MediaUrl0") != "":
		event.Kind = models.EventKindImage
		event.Image = &models.ImagePayload{
			URL:     r.FormValue("MediaUrl0"),
			Caption: r.FormValue("Body"),
		}

	case r.FormValue("Body") != "":
		event.Kind = models.EventKindText
		event.Text = r.FormValue("Body")

	default:
		slog.Debug("Twilio webhook without usable payload", "from", identity)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
		return
	}

	s.safeEmitEvent(event)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmitEvent pushes an event into the channel unless the service stopped.
func (s *TwilioService) safeEmitEvent(event models.InboundEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.Identity)
		return
	}

	select {
	case s.events <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.Identity, "kind", event.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping message", "from", event.Identity)
	}
}

var _ Service = (*TwilioService)(nil)
