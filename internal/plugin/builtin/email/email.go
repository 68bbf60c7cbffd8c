// Package email is the built-in email delivery sink, sending through the
// Resend API.
//
// Details: {api_key, from, to, subject}. The notification payload is sent as
// the plain-text body.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/resend/resend-go/v3"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type details struct {
	APIKey  string   `json:"api_key"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
}

type Sink struct {
	mu      sync.Mutex
	clients map[string]*resend.Client
}

func New() *Sink { return &Sink{clients: map[string]*resend.Client{}} }

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "email", Version: "0.2.0", Author: "notigate"}
}

func (s *Sink) client(apiKey string) *resend.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[apiKey]; ok {
		return c
	}
	c := resend.NewClient(apiKey)
	s.clients[apiKey] = c
	return c
}

func (s *Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	var d details
	if err := json.Unmarshal(cb.Details, &d); err != nil {
		return err
	}
	if strings.TrimSpace(d.APIKey) == "" || strings.TrimSpace(d.From) == "" || len(d.To) == 0 {
		return errors.New("email: details.api_key, details.from and details.to are required")
	}

	subject := d.Subject
	if subject == "" {
		subject = fmt.Sprintf("Notification %s (%s)", data.Config.ID, data.Environment)
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    d.From,
		To:      d.To,
		Subject: subject,
		Text:    string(payload),
	}
	if _, err := s.client(d.APIKey).Emails.Send(params); err != nil {
		return err
	}
	log.Debug("notification mailed", logx.Int("recipients", len(d.To)), logx.String("notification", data.Config.ID))
	return nil
}
