// Package telegram sends operator messages through the Telegram Bot API.
//
// The bot runs offline (no polling); it only calls sendMessage.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

// Config configures the report bot. URL overrides the Bot API endpoint.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	URL      string
	Timeout  time.Duration
}

type Transport struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// NewBot creates an offline bot that can send but never polls.
func NewBot(token, apiURL string, timeout time.Duration) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(apiURL, "/"),
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := NewBot(cfg.Token, cfg.URL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg, log: log.With(logx.String("comp", "transport.telegram")), bot: b}, nil
}

func (*Transport) Name() string { return "telegram" }

func (t *Transport) Send(ctx context.Context, m transport.Message) error {
	chat := &tele.Chat{ID: t.cfg.ChatID}
	for _, chunk := range SplitText(m.Body(), TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              t.cfg.ThreadID,
		})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	var te *tele.Error
	isClientErr := errors.As(err, &te) && (te.Code == http.StatusUnauthorized || te.Code == http.StatusForbidden || te.Code == http.StatusBadRequest)
	if isClientErr || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "chat not found") {
		return fmt.Errorf("%w: telegram: %v", transport.ErrPermanent, err)
	}
	return fmt.Errorf("telegram: %w", err)
}

// TextLimit is a safe per-message size below Telegram's 4096 limit.
const TextLimit = 4000

// SplitText splits long text into chunks of at most limit runes, preferring
// newline boundaries.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
