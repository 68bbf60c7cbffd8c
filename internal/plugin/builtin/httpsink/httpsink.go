// Package httpsink is the built-in webhook push sink.
//
// Details: {url, method (get|post|put|delete, default post), headers}.
// GET and DELETE send no body; POST and PUT send the notification data as JSON.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notigate/internal/config"
	"notigate/internal/plugin"
	"notigate/pkg/logx"
)

type details struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type Sink struct {
	client *http.Client
}

func New() *Sink {
	return &Sink{client: &http.Client{Timeout: 30 * time.Second}}
}

func (*Sink) Meta() plugin.Meta {
	return plugin.Meta{Name: "http", Version: "0.2.0", Author: "notigate"}
}

func (s *Sink) Deliver(ctx context.Context, cb config.Callback, data plugin.NotificationData, log logx.Logger) error {
	var d details
	if err := json.Unmarshal(cb.Details, &d); err != nil {
		return err
	}
	if strings.TrimSpace(d.URL) == "" {
		return errors.New("http: details.url is required")
	}

	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		// no body
	case http.MethodPost, http.MethodPut:
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	default:
		return fmt.Errorf("http: unsupported method %q", d.Method)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http: %s %s returned %s", method, d.URL, resp.Status)
	}
	log.Debug("notification pushed",
		logx.String("url", d.URL),
		logx.String("method", method),
		logx.String("status", resp.Status),
		logx.String("notification", data.Config.ID),
	)
	return nil
}
