package mailer

import (
	"fmt"
	"time"

	"github.com/osteele/liquid"
)

const (
	invitationSubject = `Your Zoom meeting with {{ providerName }} on {{ start | datetime: "Jan 2, 2006" }}`

	invitationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #4a4a4a;">
  <p>Hi {{ recipientName | default: "there" | escape }},</p>
  <p>Your appointment between {{ userName | escape }} and {{ providerName | escape }} has been confirmed.</p>
  <p><strong>When:</strong> {{ start | datetime: "Monday, January 2, 2006 at 3:04 PM MST" }}</p>
  <p><strong>Join Zoom meeting:</strong> <a href="{{ zoomLink | escape }}">{{ zoomLink | escape }}</a></p>
  {% if password != "" %}<p><strong>Passcode:</strong> {{ password | escape }}</p>{% endif %}
  <p>See you there!</p>
</body>
</html>`

	invitationText = `Hi {{ recipientName | default: "there" }},

Your appointment between {{ userName }} and {{ providerName }} has been confirmed.

When: {{ start | datetime: "Monday, January 2, 2006 at 3:04 PM MST" }}
Join Zoom meeting: {{ zoomLink }}
{% if password != "" %}Passcode: {{ password }}
{% endif %}`
)

type renderer struct {
	engine *liquid.Engine
	loc    *time.Location

	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

func newRenderer(loc *time.Location) (*renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &renderer{engine: liquid.NewEngine(), loc: loc}

	// {{ start | datetime: "Jan 2, 2006" }} formats with a Go layout in the
	// configured zone.
	r.engine.RegisterFilter("datetime", func(v any, layout string) string {
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Sprint(v)
		}
		return t.In(r.loc).Format(layout)
	})
	r.engine.RegisterFilter("default", func(v any, fallback string) any {
		if s, ok := v.(string); v == nil || (ok && s == "") {
			return fallback
		}
		return v
	})

	var err error
	if r.subject, err = r.engine.ParseString(invitationSubject); err != nil {
		return nil, fmt.Errorf("mailer: parse subject template: %w", err)
	}
	if r.html, err = r.engine.ParseString(invitationHTML); err != nil {
		return nil, fmt.Errorf("mailer: parse html template: %w", err)
	}
	if r.text, err = r.engine.ParseString(invitationText); err != nil {
		return nil, fmt.Errorf("mailer: parse text template: %w", err)
	}
	return r, nil
}

type rendered struct {
	Subject string
	HTML    string
	Text    string
}

func (r *renderer) render(b liquid.Bindings) (rendered, error) {
	var out rendered
	var err error
	if out.Subject, err = r.subject.RenderString(b); err != nil {
		return rendered{}, fmt.Errorf("mailer: render subject: %w", err)
	}
	if out.HTML, err = r.html.RenderString(b); err != nil {
		return rendered{}, fmt.Errorf("mailer: render html: %w", err)
	}
	if out.Text, err = r.text.RenderString(b); err != nil {
		return rendered{}, fmt.Errorf("mailer: render text: %w", err)
	}
	return out, nil
}
