// Package digest sends the post-game email listing the words a player got wrong.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"

	"github.com/telhawk-systems/eventgate/eventgate/internal/dispatcher"
	"github.com/telhawk-systems/eventgate/eventgate/internal/email"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/eventgate/internal/service"
)

// EventType is the event type the digest handler is registered for.
const EventType = "DailyDigest"

// Subject is the subject line of every digest email.
const Subject = "Game completed! Make sure to learn these words!"

const emptyBody = "<p>No words to learn today!</p>"

// Payload is the body of a DailyDigest event.
type Payload struct {
	Username       string              `json:"username"`
	IncorrectWords []map[string]string `json:"incorrect_words"`
}

var tableTemplate = template.Must(template.New("digest").Parse(`<html>
    <body>
        <p>Here are your words to learn:</p>
        <table border="1" cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
            <tr>
                <th>{{.Language}}</th>
                <th>English</th>
            </tr>
            {{- range .Rows}}
            <tr><td>{{.Foreign}}</td><td>{{.English}}</td></tr>
            {{- end}}
        </table>
        <p>Keep up the great work! 💪</p>
    </body>
</html>`))

type row struct {
	Foreign string
	English string
}

// Render builds the HTML body for words. The foreign language column is the
// first key of the first entry, in sorted order, that is not English.
func Render(words []map[string]string) (string, error) {
	if len(words) == 0 {
		return emptyBody, nil
	}

	lang := foreignLanguage(words[0])
	rows := make([]row, 0, len(words))
	for _, w := range words {
		rows = append(rows, row{Foreign: w[lang], English: w["English"]})
	}

	var buf bytes.Buffer
	if err := tableTemplate.Execute(&buf, struct {
		Language string
		Rows     []row
	}{lang, rows}); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

func foreignLanguage(sample map[string]string) string {
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.EqualFold(k, "english") {
			return k
		}
	}
	return "Foreign"
}

// Handler sends one digest email per message.
type Handler struct {
	sender email.Sender
	domain string
	logger *slog.Logger
}

func NewHandler(sender email.Sender, recipientDomain string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sender: sender, domain: recipientDomain, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, msg *models.Message) error {
	var p Payload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	switch {
	case p.Username == "":
		return fmt.Errorf("%w: username is required", models.ErrInvalidPayload)
	case p.IncorrectWords == nil:
		return fmt.Errorf("%w: incorrect_words is required", models.ErrInvalidPayload)
	}

	body, err := Render(p.IncorrectWords)
	if err != nil {
		return err
	}

	to := h.recipient(p.Username)
	if err := h.sender.Send(ctx, &email.Email{To: to, Subject: Subject, HTMLBody: body}); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "digest sent",
		slog.String("to", to),
		slog.Int("words", len(p.IncorrectWords)))
	return nil
}

// recipient returns the username as an address, qualifying bare names with
// the configured domain.
func (h *Handler) recipient(username string) string {
	if h.domain == "" || strings.Contains(username, "@") {
		return username
	}
	return username + "@" + h.domain
}

// Register binds the digest handler to its event type on d.
func Register(d *dispatcher.Dispatcher, sender email.Sender, recipientDomain string) error {
	return d.Register(EventType, func(scope *dispatcher.Scope) service.Handler {
		return NewHandler(sender, recipientDomain, scope.Logger)
	})
}
