// Package notify delivers user notifications and operator alerts over
// Telegram, the channel the back office is operated from. Dispatch is
// fire-and-forget: settlement status is committed before any message is sent
// and a delivery failure never affects it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const telegramAPIBaseURL = "https://api.telegram.org"

type Telegram struct {
	pool        *pgxpool.Pool
	botToken    string
	alertChatID int64
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewTelegram(pool *pgxpool.Pool, botToken string, alertChatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{
		pool:        pool,
		botToken:    strings.TrimSpace(botToken),
		alertChatID: alertChatID,
		httpClient:  &http.Client{Timeout: 8 * time.Second},
		logger:      logger,
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiBasicResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NotifyUser sends title/message to the user's linked Telegram account.
// Users without a linked account or with notifications switched off are
// skipped silently.
func (t *Telegram) NotifyUser(ctx context.Context, userID, title, message string) {
	if t.botToken == "" || strings.TrimSpace(userID) == "" {
		return
	}
	var telegramID int64
	var enabled bool
	err := t.pool.QueryRow(ctx, `
		SELECT COALESCE(telegram_id, 0), COALESCE(telegram_notifications_enabled, TRUE)
		FROM users
		WHERE id = $1
	`, userID).Scan(&telegramID, &enabled)
	if err != nil {
		t.logger.Warn("notify lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if telegramID == 0 || !enabled {
		return
	}
	text := fmt.Sprintf("*%s*\n%s", escapeMarkdown(title), escapeMarkdown(message))
	t.send(ctx, telegramID, text, "Markdown")
}

// Alert pushes an operator-facing message to the configured alert chat. Used
// for critical partial failures and records parked for manual
// reconciliation.
func (t *Telegram) Alert(ctx context.Context, message string) {
	if t.botToken == "" || t.alertChatID == 0 {
		t.logger.Error("operator alert raised without telegram alert channel", zap.String("alert", message))
		return
	}
	t.send(ctx, t.alertChatID, "⚠️ "+message, "")
}

func (t *Telegram) send(ctx context.Context, chatID int64, text, parseMode string) {
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseMode})
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBaseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	var out apiBasicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		t.logger.Warn("telegram send rejected",
			zap.Int64("chat_id", chatID),
			zap.String("description", out.Description))
	}
}

func escapeMarkdown(v string) string {
	replacer := strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")
	return replacer.Replace(v)
}
