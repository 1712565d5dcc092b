package forward

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/k3a/html2text"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openans/ansd/internal/notification"
	"github.com/openans/ansd/internal/privacy"
)

// shoutrrrSender is the part of the shoutrrr router the provider uses.
type shoutrrrSender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrProvider sends events as chat or push messages through shoutrrr.
// One sender covers all configured URLs.
type ShoutrrrProvider struct {
	name   string
	sender shoutrrrSender
}

// NewShoutrrrProvider builds a sender for urls.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		// Service URLs carry tokens
		return nil, privacy.WrapError(err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrProvider{name: "shoutrrr", sender: sender}, nil
}

// Name implements Provider.
func (s *ShoutrrrProvider) Name() string { return s.name }

// Send implements Provider.
func (s *ShoutrrrProvider) Send(ctx context.Context, ev *Event) error {
	if s.sender == nil {
		return permanent(fmt.Errorf("shoutrrr sender not initialized"))
	}
	// The router applies its own timeout
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := renderMessage(ev)
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			return privacy.WrapError(err)
		}
	}
	return nil
}

// Close implements Provider.
func (s *ShoutrrrProvider) Close() error { return nil }

var titleCaser = cases.Title(language.English)

// renderMessage turns ev into a plain text title and body. Notification text
// may carry HTML markup, chat services get it as text.
func renderMessage(ev *Event) (string, string) {
	switch ev.Kind {
	case EventConsume:
		var b strings.Builder
		b.WriteString(html2text.HTML2Text(ev.Text()))
		if basic := ev.basic(); basic != nil && basic.AdditionalText != "" {
			b.WriteString("\n\n")
			b.WriteString(html2text.HTML2Text(basic.AdditionalText))
		}
		return html2text.HTML2Text(ev.Title()), b.String()

	case EventCancel:
		reason := titleCaser.String(strings.ReplaceAll(ev.Reason, "_", " "))
		return "Removed: " + html2text.HTML2Text(ev.Title()), fmt.Sprintf("%s (%s)", reason, ev.Bundle)

	case EventDoNotDisturb:
		return "Do Not Disturb", describeDoNotDisturb(ev.DoNotDisturb)

	default:
		return "", string(ev.Kind)
	}
}

func describeDoNotDisturb(date *notification.DoNotDisturbDate) string {
	if date == nil {
		return "Off"
	}
	const layout = "2006-01-02 15:04"

	switch date.Type {
	case notification.DoNotDisturbOnce:
		return fmt.Sprintf("Once, %s to %s", date.Begin.Format(layout), date.End.Format(layout))
	case notification.DoNotDisturbDaily:
		return fmt.Sprintf("Daily, %s to %s", date.Begin.Format("15:04"), date.End.Format("15:04"))
	case notification.DoNotDisturbClearly:
		return fmt.Sprintf("Clearly, %s to %s", date.Begin.Format(layout), date.End.Format(layout))
	default:
		return "Off"
	}
}
