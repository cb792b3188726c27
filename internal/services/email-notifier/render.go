package notifier

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
)

var ErrUnknownKind = errors.New("notifier: unknown event kind")

type Brand struct {
	Product string `mapstructure:"product"`
	Support string `mapstructure:"support"`
}

type message struct {
	subject string
	body    *template.Template
}

type view struct {
	Brand Brand
	Event notification.Event
}

var funcs = template.FuncMap{
	"ts": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 MST")
	},
	"at": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
}

func mustBody(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

var messages = map[notification.Kind]message{
	notification.KindPasswordReset: {
		subject: "Reset your password",
		body: mustBody("password_reset", `Hello,

Someone asked to reset the {{.Brand.Product}} password for {{.Event.Email}}.
Open the link below to choose a new one. It works once and expires at {{ts .Event.ExpiresAt}}.

{{.Event.ResetURL}}

If this was not you, ignore this message. Your password stays unchanged.
{{with .Brand.Support}}
Questions: {{.}}{{end}}
`),
	},
	notification.KindPasswordChanged: {
		subject: "Your password was changed",
		body: mustBody("password_changed", `Hello,

The {{.Brand.Product}} password for {{.Event.Email}} was changed at {{at .Event.OccurredAt}}.
All devices were signed out.

If you did not do this, reset your password now and contact support.
{{with .Brand.Support}}
Support: {{.}}{{end}}
`),
	},
	notification.KindSessionReuse: {
		subject: "Suspicious sign-in activity",
		body: mustBody("session_reuse_detected", `Hello,

A refresh token for {{.Event.Email}} that had already been used was presented again at {{at .Event.OccurredAt}}{{with .Event.IP}} from {{.}}{{end}}.
This can mean the token was copied. We signed out the affected sessions.

Sign in again and change your password if you do not recognise this.
{{with .Brand.Support}}
Support: {{.}}{{end}}
`),
	},
	notification.KindAccountLocked: {
		subject: "Your account was temporarily locked",
		body: mustBody("account_locked", `Hello,

There were too many failed sign-in attempts for {{.Event.Email}}{{with .Event.IP}} (last from {{.}}){{end}}.
Sign-in is blocked until {{ts .Event.UnlockAt}}.

If this was not you, consider resetting your password.
{{with .Brand.Support}}
Support: {{.}}{{end}}
`),
	},
}

// Render returns the subject and plain-text body for ev.
func Render(b Brand, ev notification.Event) (string, string, error) {
	m, ok := messages[ev.Kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if b.Product == "" {
		b.Product = "Gatekeeper"
	}
	var buf bytes.Buffer
	if err := m.body.Execute(&buf, view{Brand: b, Event: ev}); err != nil {
		return "", "", fmt.Errorf("render %s: %w", ev.Kind, err)
	}
	return m.subject, buf.String(), nil
}
