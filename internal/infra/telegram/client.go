// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"mediscout/internal/domain/notification"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// Compile-time interface satisfaction check.
var _ notification.Notifier = (*TelebotAdapter)(nil)

// Sender is the part of *telebot.Bot the adapter needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter implements notification.Notifier using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot    Sender
	chatID int64
}

// NewBot creates an offline bot: it only sends, so no getMe or polling is done.
func NewBot(token string) (*telebot.Bot, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelebotAdapter(b Sender, chatID int64) *TelebotAdapter {
	return &TelebotAdapter{bot: b, chatID: chatID}
}

// Send posts message to the configured chat, the title bolded on top. Long
// messages are split on line boundaries.
func (tba *TelebotAdapter) Send(_ context.Context, message, title string) error {
	text := html.EscapeString(message)
	if title != "" {
		text = "<b>" + html.EscapeString(title) + "</b>\n" + text
	}

	recipient := &telebot.Chat{ID: tba.chatID}
	for i, chunk := range SplitMessage(text, MaxMessageLength) {
		if _, err := tba.bot.Send(recipient, chunk, &telebot.SendOptions{ParseMode: telebot.ModeHTML}); err != nil {
			return fmt.Errorf("send telegram message part %d: %w", i+1, err)
		}
	}
	return nil
}

// SplitMessage cuts text into pieces of at most limit bytes, preferring line breaks.
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if b.Len() > 0 {
				chunks = append(chunks, b.String())
				b.Reset()
			}
			cut := cutPoint(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if b.Len()+len(line) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// maxEntityLength bounds the HTML entities html.EscapeString produces ("&quot;").
const maxEntityLength = 6

// cutPoint returns an offset <= limit that splits neither a UTF-8 sequence
// nor an HTML entity. Falls back to limit when no safe offset exists.
func cutPoint(line string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	if amp := strings.LastIndexByte(line[:cut], '&'); amp > 0 && cut-amp < maxEntityLength &&
		!strings.Contains(line[amp:cut], ";") {
		cut = amp
	}
	if cut == 0 {
		return limit
	}
	return cut
}

// LogNotifier writes notifications to the log. Used when Telegram is not configured.
type LogNotifier struct {
	logger *logrus.Entry
}

func NewLogNotifier(logger *logrus.Entry) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, message, title string) error {
	n.logger.WithField("title", title).Info("New appointments:\n" + message)
	return nil
}
