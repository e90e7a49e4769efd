package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to the underlying client for event handling
	events   chan models.InboundEvent
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}

	// Only a full client can register event handlers; an interface client is
	// likely a mock.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient reduces the recipient to bare digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.events)
	return nil
}

// SendReply delivers a reply. Media replies are sent as the caption followed
// by the media link, because re-uploading external media through the linked
// device is not supported on this channel.
func (s *WhatsAppService) SendReply(ctx context.Context, to string, reply *models.Reply) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	body := reply.Text
	if reply.Media != nil {
		if body != "" {
			body += "\n"
		}
		if reply.Media.Caption != "" {
			body += reply.Media.Caption + "\n"
		}
		body += reply.Media.Link
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendReply error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService reply sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Events returns the channel of normalized inbound events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// handleEvents registers the whatsmeow event handler and runs until the
// context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if v, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(v)
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a whatsmeow message into a normalized
// inbound event. Text, location shares and images are forwarded; everything
// else is ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	identity := evt.Info.Sender.User
	event := models.InboundEvent{
		Identity: identity,
		Time:     evt.Info.Timestamp.Unix(),
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		event.Kind = models.EventKindText
		event.Text = msg.GetConversation()

	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.GetText() != "":
		event.Kind = models.EventKindText
		event.Text = msg.ExtendedTextMessage.GetText()

	case msg.LocationMessage != nil:
		loc := msg.GetLocationMessage()
		event.Kind = models.EventKindLocation
		event.Location = &models.LocationPayload{
			Latitude:    loc.GetDegreesLatitude(),
			Longitude:   loc.GetDegreesLongitude(),
			Description: loc.GetName(),
		}

	case msg.ImageMessage != nil:
		img := msg.GetImageMessage()
		event.Kind = models.EventKindImage
		event.Image = &models.ImagePayload{
			URL:     img.GetURL(),
			Caption: img.GetCaption(),
		}

	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", identity)
		return
	}

	select {
	case s.events <- event:
		slog.Debug("WhatsAppService inbound event forwarded", "from", identity, "kind", event.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping message", "from", identity)
	}
}

var _ Service = (*WhatsAppService)(nil)
