// Package notify sends alerts about issues found during a session.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// captionLimit is Telegram's maximum photo caption length.
const captionLimit = 1024

// Alert describes the issues found on one capture.
type Alert struct {
	SessionID string
	CaptureID string
	Device    string
	Screen    string
	Issues    []rules.Issue
	Image     []byte // Highlighted screenshot, optional
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop drops every alert.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Alert) error { return nil }

// New returns a Telegram notifier when a token and chat are configured,
// and Nop otherwise.
func New(cfg config.NotifyConfig) (Notifier, error) {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		return Nop{}, nil
	}
	return NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.MinSeverity)
}

// Telegram posts alerts to one chat through a bot.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	min    core.Severity
}

// NewTelegram authorizes the bot token and returns a notifier for chatID
// that only reports issues at or above min.
func NewTelegram(token string, chatID int64, min core.Severity) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, chatID, min)
}

// newTelegram talks to endpoint, a format string taking the token and the
// method name.
func newTelegram(token, endpoint string, chatID int64, min core.Severity) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, core.ErrNotifyFailed.WithMessage("telegram authorization failed").WithCause(err)
	}
	logger.Info("telegram: authorized as %s", api.Self.UserName)
	return &Telegram{api: api, chatID: chatID, min: min}, nil
}

// Notify sends the alert when any of its issues reaches the minimum
// severity. A screenshot is sent as a photo with the summary as caption.
func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	a.Issues = rules.AtLeast(a.Issues, t.min)
	if len(a.Issues) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := Message(a)
	var c tgbotapi.Chattable
	if len(a.Image) > 0 {
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: a.CaptureID + ".png", Bytes: a.Image})
		photo.Caption = truncate(text, captionLimit)
		c = photo
	} else {
		c = tgbotapi.NewMessage(t.chatID, text)
	}
	if _, err := t.api.Send(c); err != nil {
		return core.ErrNotifyFailed.Messagef("telegram send to %d", t.chatID).WithCause(err)
	}
	logger.Debug("telegram: sent %d issues for %s", len(a.Issues), a.CaptureID)
	return nil
}

// Message formats an alert as plain text.
func Message(a Alert) string {
	var b strings.Builder
	c := rules.Count(a.Issues)
	fmt.Fprintf(&b, "simlens: %d issues on %s", len(a.Issues), a.Device)
	if a.Screen != "" {
		fmt.Fprintf(&b, " (%s screen)", a.Screen)
	}
	fmt.Fprintf(&b, "\nhigh %d, medium %d, low %d\n", c.High, c.Medium, c.Low)
	for _, is := range a.Issues {
		fmt.Fprintf(&b, "\n[%s] %s: %s", is.Severity, is.RuleID, is.Description)
	}
	if a.CaptureID != "" {
		fmt.Fprintf(&b, "\n\n%s", a.CaptureID)
		if a.SessionID != "" {
			fmt.Fprintf(&b, " in session %s", a.SessionID)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
