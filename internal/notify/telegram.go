// Package notify delivers best-effort operator notifications. Delivery
// failures are logged and swallowed; trade logic never depends on them.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(text string)
}

// Nop is used in tests and when no telegram token is configured.
type Nop struct{}

func (Nop) Notify(string) {}

type Telegram struct {
	token  string
	chatID int64
	http   *http.Client
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, log *zap.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

type tgMsg struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) Notify(text string) {
	msg := tgMsg{ChatID: t.chatID, Text: text, ParseMode: "Markdown", DisableWebPagePreview: true}
	data, err := json.Marshal(msg)
	if err != nil {
		t.log.Error("telegram marshal failed", zap.Error(err))
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(2 * time.Second)
		}
		res, err := t.http.Post(url, "application/json", bytes.NewBuffer(data))
		if err != nil {
			t.log.Warn("telegram send failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			return
		}
		t.log.Warn("telegram api status", zap.Int("attempt", attempt+1), zap.String("status", res.Status))
	}
	t.log.Error("telegram message dropped", zap.String("text", text))
}
