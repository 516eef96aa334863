// Package apns implements the APNs push provider (spec §4.K). The
// teacher has no direct Apple push client (only server/push/tnpg, a
// relay-gateway protocol to a third-party service, not Apple's HTTP/2
// API directly), so this adopts a dedicated APNs client rather than
// hand-rolling HTTP/2 + provider-token auth.
package apns

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/privchat/privchat/internal/pushplanner"
)

// Config carries the provider-token credentials APNs requires.
type Config struct {
	KeyPath  string
	KeyID    string
	TeamID   string
	Topic    string // the app's bundle ID
	Sandbox  bool
}

// Provider sends push notifications through Apple Push Notification service.
type Provider struct {
	client *apns2.Client
	topic  string
}

// New builds a Provider from a .p8 signing-key file and its provider-token metadata.
func New(cfg Config) (*Provider, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("apns: load signing key: %w", err)
	}
	tok := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tok)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Provider{client: client, topic: cfg.Topic}, nil
}

// Send implements pushplanner.Provider.
func (p *Provider) Send(ctx context.Context, intent pushplanner.Intent, msg pushplanner.ProviderPayload) error {
	builder := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound("default")
	for k, v := range msg.Data {
		builder = builder.Custom(k, v)
	}
	builder = builder.Custom("message_id", fmt.Sprintf("%d", intent.MessageID))

	notification := &apns2.Notification{
		DeviceToken: intent.DeviceID,
		Topic:       p.topic,
		Payload:     builder,
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("apns: send to device %s: %w", intent.DeviceID, err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns: rejected for device %s: %s (apns-id %s)", intent.DeviceID, res.Reason, res.ApnsID)
	}
	return nil
}
