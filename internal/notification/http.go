package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const httpTimeout = 10 * time.Second

// postJSON sends v to url and treats any non-2xx reply as a failure.
func postJSON(ctx context.Context, client *http.Client, channel, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: unexpected status %d", channel, resp.StatusCode)
	}
	return nil
}

// WebhookNotifier POSTs each alert as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: httpTimeout}}
}

type webhookBody struct {
	Alert
	SentAt string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body := webhookBody{Alert: alert, SentAt: time.Now().UTC().Format(time.RFC3339Nano)}
	if err := postJSON(ctx, w.client, "webhook", w.url, body); err != nil {
		return err
	}
	slog.Debug("alert delivered", "component", "notify", "channel", "webhook", "title", alert.Title)
	return nil
}

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier delivers alerts through the Bot API sendMessage call,
// formatted as MarkdownV2.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: DefaultTelegramAPI,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// WithAPIBase points the notifier at another Bot API root.
func (t *TelegramNotifier) WithAPIBase(base string) *TelegramNotifier {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := sendMessage{ChatID: t.chatID, Text: telegramText(alert), ParseMode: "MarkdownV2"}
	url := t.apiBase + "/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.client, "telegram", url, msg); err != nil {
		return err
	}
	slog.Debug("alert delivered", "component", "notify", "channel", "telegram", "title", alert.Title)
	return nil
}

var levelIcon = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

func telegramText(a Alert) string {
	var b strings.Builder
	icon, ok := levelIcon[a.Level]
	if !ok {
		icon = levelIcon[AlertInfo]
	}
	fmt.Fprintf(&b, "%s *%s*\n\n%s", icon, mdv2.Replace(a.Title), mdv2.Replace(a.Message))

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n`%s` %s", k, mdv2.Replace(a.Fields[k]))
	}
	return b.String()
}

// mdv2 escapes the characters MarkdownV2 reserves outside entities.
var mdv2 = func() *strings.Replacer {
	var pairs []string
	for _, r := range "_*[]()~`>#+-=|{}.!" {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}()
