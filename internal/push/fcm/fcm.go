// Package fcm implements the FCM push provider (spec §4.K), wrapping the
// Firebase Admin SDK messaging client behind pushplanner.Provider.
//
// Grounded on server/push/fcm/payload.go: the Android-specific config
// knobs (title/body/icon/color/click-action, with a per-push-type
// override falling back to a common default) are ported in full from
// AndroidConfig/androidPayload, just re-pointed at pushplanner.Intent
// instead of push.Receipt and tinode's drafty-formatted content.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	messaging "firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/privchat/privchat/internal/pushplanner"
)

// androidPayload is a per-push-type notification override, identical in
// shape to the teacher's type of the same name.
type androidPayload struct {
	TitleLocKey string
	Title       string
	BodyLocKey  string
	Body        string
	Icon        string
	Color       string
	ClickAction string
}

// AndroidConfig carries Android-specific presentation defaults plus a
// message-push override (Msg) that takes precedence field by field.
type AndroidConfig struct {
	Enabled bool
	androidPayload
	Msg androidPayload
}

func (ac *AndroidConfig) title() string {
	if ac.Msg.Title != "" {
		return ac.Msg.Title
	}
	return ac.androidPayload.Title
}

func (ac *AndroidConfig) body(fallback string) string {
	b := ac.Msg.Body
	if b == "" {
		b = ac.androidPayload.Body
	}
	if b == "$content" {
		return fallback
	}
	return b
}

func (ac *AndroidConfig) icon() string {
	if ac.Msg.Icon != "" {
		return ac.Msg.Icon
	}
	return ac.androidPayload.Icon
}

func (ac *AndroidConfig) color() string {
	if ac.Msg.Color != "" {
		return ac.Msg.Color
	}
	return ac.androidPayload.Color
}

func (ac *AndroidConfig) clickAction() string {
	if ac.Msg.ClickAction != "" {
		return ac.Msg.ClickAction
	}
	return ac.androidPayload.ClickAction
}

// Provider sends push notifications through Firebase Cloud Messaging.
type Provider struct {
	client *messaging.Client
	config AndroidConfig
}

// New builds a Provider from a credentials file path (a service-account
// JSON, the same artifact server/push/fcm originally consumed).
func New(ctx context.Context, credentialsFile string, config AndroidConfig) (*Provider, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: init messaging client: %w", err)
	}
	return &Provider{client: client, config: config}, nil
}

// Send implements pushplanner.Provider.
func (p *Provider) Send(ctx context.Context, intent pushplanner.Intent, payload pushplanner.ProviderPayload) error {
	data := map[string]string{
		"message_id": fmt.Sprintf("%d", intent.MessageID),
	}
	for k, v := range payload.Data {
		data[k] = v
	}

	msg := &messaging.Message{
		Token: intent.DeviceID,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	if p.config.Enabled {
		msg.Android.Notification = &messaging.AndroidNotification{
			Title:       firstNonEmpty(p.config.title(), payload.Title),
			Body:        firstNonEmpty(p.config.body(payload.Body), payload.Body),
			Icon:        p.config.icon(),
			Color:       p.config.color(),
			ClickAction: p.config.clickAction(),
		}
	}

	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm: send to device %s: %w", intent.DeviceID, err)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
