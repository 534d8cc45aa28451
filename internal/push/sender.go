package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/mindexlab/mindex/internal/directive"
)

// VAPIDKeys is the key pair used to sign Web Push requests.
type VAPIDKeys struct {
	Public  string
	Private string
	// Subject is the contact URI sent in the VAPID "sub" claim,
	// e.g. "mailto:you@example.com".
	Subject string
}

// GenerateVAPIDKeys creates a fresh VAPID key pair.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	return VAPIDKeys{Public: public, Private: private}, nil
}

// WebPushSender delivers messages over the Web Push protocol.
type WebPushSender struct {
	keys VAPIDKeys
	ttl  int
}

// NewWebPushSender creates a sender signing with the given VAPID keys.
func NewWebPushSender(keys VAPIDKeys) *WebPushSender {
	return &WebPushSender{keys: keys, ttl: 86400}
}

// Send pushes one message to one subscription endpoint.
func (s *WebPushSender) Send(ctx context.Context, sub directive.Subscription, message string) error {
	resp, err := webpush.SendNotificationWithContext(ctx, []byte(message), &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		Subscriber:      s.keys.Subject,
		VAPIDPublicKey:  s.keys.Public,
		VAPIDPrivateKey: s.keys.Private,
		TTL:             s.ttl,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}

// LogSender is the sender used when VAPID keys are not configured: it logs
// the would-be delivery instead of pushing, so directive authoring can be
// exercised without credentials.
type LogSender struct {
	Log *slog.Logger
}

// Send logs the delivery and reports success.
func (s *LogSender) Send(_ context.Context, sub directive.Subscription, message string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("push disabled, dropping notification", "endpoint", sub.Endpoint, "message", message)
	return nil
}
