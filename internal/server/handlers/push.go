package handlers

import (
	"context"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/directive"
	"github.com/mindexlab/mindex/internal/push"
)

// PushHandler exposes the notification registry and schedule for debugging,
// the VAPID public key for browser subscription, and a test-push endpoint.
type PushHandler struct {
	svc       *Services
	publicKey string
}

// NewPushHandler creates a push handler. publicKey may be empty when push
// delivery is disabled.
func NewPushHandler(svc *Services, publicKey string) *PushHandler {
	return &PushHandler{svc: svc, publicKey: publicKey}
}

// RegistryRequest is empty.
type RegistryRequest struct{}

// RegistryResponse is the current directive registry.
type RegistryResponse struct {
	Users         map[string]directive.User           `json:"users"`
	Subscriptions map[string][]directive.Subscription `json:"subscriptions"`
}

// Registry returns the users and subscriptions currently known.
func (h *PushHandler) Registry(ctx context.Context, req RegistryRequest) (*RegistryResponse, error) {
	snap := h.svc.Push.Snapshot()
	return &RegistryResponse{Users: snap.Users, Subscriptions: snap.Subscriptions}, nil
}

// ScheduleRequest is empty.
type ScheduleRequest struct{}

// ScheduleResponse lists pending notifications sorted by fire time.
type ScheduleResponse struct {
	Scheduled []push.ScheduledNotification `json:"scheduled"`
}

// Schedule returns the pending notification timers.
func (h *PushHandler) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResponse, error) {
	snap := h.svc.Push.Snapshot()
	return &ScheduleResponse{Scheduled: snap.Scheduled}, nil
}

// PublicKeyRequest is empty.
type PublicKeyRequest struct{}

// PublicKeyResponse carries the VAPID public key browsers need to subscribe.
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// PublicKey returns the server's VAPID public key.
func (h *PushHandler) PublicKey(ctx context.Context, req PublicKeyRequest) (*PublicKeyResponse, error) {
	if h.publicKey == "" {
		return nil, apierrors.NotFound("VAPID public key")
	}
	return &PublicKeyResponse{PublicKey: h.publicKey}, nil
}

// TestPushRequest names a recipient and an optional message.
type TestPushRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// TestPushResponse reports how many subscriptions were reached.
type TestPushResponse struct {
	Sent int `json:"sent"`
}

// Test sends an immediate notification to every subscription of a recipient.
func (h *PushHandler) Test(ctx context.Context, req TestPushRequest) (*TestPushResponse, error) {
	if req.To == "" {
		return nil, apierrors.MissingField("to")
	}
	message := req.Message
	if message == "" {
		message = "test notification"
	}
	sent, err := h.svc.Push.SendNow(ctx, req.To, message)
	if sent == 0 {
		if err != nil {
			return nil, apierrors.Internal("all sends failed", err)
		}
		return nil, apierrors.NotFound("subscriptions for recipient").WithDetail("to", req.To)
	}
	return &TestPushResponse{Sent: sent}, nil
}
