package notify

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

	"github.com/branchdesk/branchdesk/pkg/metrics"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// TelegramSettings capture the runtime configuration for the Telegram notifier.
type TelegramSettings struct {
	Enabled    bool
	BotToken   string
	APIBaseURL string
	Timeout    time.Duration
}

type telegramNotifier struct {
	cfg    TelegramSettings
	client *http.Client
}

// NewTelegram builds a Notifier that delivers messages through the Telegram
// Bot API. When disabled, Send returns ErrDisabled without network activity.
func NewTelegram(cfg TelegramSettings) (Notifier, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram: bot token is required when enabled")
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &telegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *telegramNotifier) Send(ctx context.Context, msg Message) error {
	if !t.cfg.Enabled {
		return ErrDisabled
	}
	if msg.ChatID == 0 {
		return errors.New("telegram: chat id is required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("telegram: message text is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBaseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "error").Inc()
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "error").Inc()
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var decoded sendMessageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "error").Inc()
		return fmt.Errorf("telegram: decode response (status %d): %w", resp.StatusCode, err)
	}

	if !decoded.OK {
		metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "rejected").Inc()
		return fmt.Errorf("telegram: api rejected message: %s", decoded.Description)
	}

	metrics.NotificationsSent.WithLabelValues(string(msg.Kind), "sent").Inc()
	return nil
}
