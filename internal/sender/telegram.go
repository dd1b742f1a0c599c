package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"outreach/internal/domain"
	tgtransport "outreach/internal/transport/telegram"
)

// Telegram delivers through a bot. Recipients are numeric chat IDs or public
// usernames; a bare username gets an "@" prefix.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(token, apiURL string, timeout time.Duration) (*Telegram, error) {
	b, err := tgtransport.NewBot(token, apiURL, timeout)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

type chatRef string

func (c chatRef) Recipient() string { return string(c) }

func recipientOf(id string) chatRef {
	id = strings.TrimSpace(id)
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return chatRef(id)
	}
	return chatRef("@" + strings.TrimPrefix(id, "@"))
}

func (t *Telegram) Send(ctx context.Context, recipient, text string) error {
	to := recipientOf(recipient)
	for _, chunk := range tgtransport.SplitText(text, tgtransport.TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(to, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return classifyTelegram(err)
		}
	}
	return nil
}

// skipMarkers are Bot API descriptions meaning the recipient cannot be reached.
var skipMarkers = []string{
	"blocked by the user",
	"user is deactivated",
	"chat not found",
	"can't initiate conversation",
	"forbidden",
}

// classifyTelegram matches on the error text because telebot reports known API
// errors as sentinels and unknown ones as plain errors. Anything that is not an
// API error (network, flood control) is transient.
func classifyTelegram(err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range skipMarkers {
		if strings.Contains(msg, m) {
			return domain.Skipped(err.Error())
		}
	}
	if strings.Contains(msg, "unauthorized") {
		return domain.Terminal(err)
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code >= 400 && te.Code < 500 && te.Code != http.StatusTooManyRequests {
		return domain.Terminal(err)
	}
	return domain.Transient(fmt.Errorf("telegram: %w", err))
}
