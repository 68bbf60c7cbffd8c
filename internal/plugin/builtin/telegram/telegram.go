// Package telegram is the built-in Telegram delivery sink.
//
// Details: {token, chat_id}. The message is a short summary followed by the
// notification payload as JSON (truncated to Telegram's message limits).
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type details struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type Sink struct {
	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New() *Sink { return &Sink{bots: map[string]*tele.Bot{}} }

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "telegram", Version: "0.2.0", Author: "notigate"}
}

func (s *Sink) bot(token string) (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	s.bots[token] = b
	return b, nil
}

func (s *Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	var d details
	if err := json.Unmarshal(cb.Details, &d); err != nil {
		return err
	}
	if strings.TrimSpace(d.Token) == "" || d.ChatID == 0 {
		return errors.New("telegram: details.token and details.chat_id are required")
	}

	b, err := s.bot(d.Token)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Notification %s (%s): %d event(s)\n%s",
		data.Config.ID, data.Environment, len(data.Events), truncate(string(payload), 3500))

	if _, err := b.Send(tele.ChatID(d.ChatID), msg); err != nil {
		return err
	}
	log.Debug("notification sent", logx.Int64("chat_id", d.ChatID), logx.String("notification", data.Config.ID))
	return nil
}

func truncate(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	return s[:maxN-3] + "..."
}
