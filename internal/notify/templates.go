package notify

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const (
	matchedSubject = "[G-Match] A new roommate candidate has been matched!"
	expiredSubject = "[G-Match] Your matching request has expired"
)

type templateData struct {
	Name     string
	Partner  string
	Score    string
	MatchURL string
}

var matchedHTML = htmltemplate.Must(htmltemplate.New("matched").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #6366f1;">G-Match</h1>
  <h2>We found a roommate candidate for you!</h2>
  <p>Hi {{.Name}},</p>
  <p>G-Match found a candidate who looks like a good fit.</p>
  {{if .Partner}}<p><strong>Partner nickname:</strong> {{.Partner}}</p>{{end}}
  {{if .Score}}<p><strong>Compatibility score:</strong> {{.Score}}</p>{{end}}
  <p>Check their profile and decide within 48 hours.</p>
  <p><a href="{{.MatchURL}}" style="display: inline-block; background-color: #6366f1; color: #ffffff; text-decoration: none; padding: 12px 24px; border-radius: 8px;">View profile</a></p>
  <p style="font-size: 12px; color: #9ca3af;">This mail was sent automatically by G-Match.</p>
</body>
</html>`))

var matchedText = texttemplate.Must(texttemplate.New("matched").Parse(`Hi {{.Name}},

G-Match found a roommate candidate who looks like a good fit.
{{if .Partner}}Partner nickname: {{.Partner}}
{{end}}{{if .Score}}Compatibility score: {{.Score}}
{{end}}
Check their profile and decide within 48 hours.

View profile: {{.MatchURL}}

This mail was sent automatically by G-Match.
`))

var expiredHTML = htmltemplate.Must(htmltemplate.New("expired").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #6366f1;">G-Match</h1>
  <h2>Your matching request has expired</h2>
  <p>Hi {{.Name}},</p>
  <p>Your roommate matching request left the queue because no match was found within the waiting window.</p>
  <p>You can register again any time.</p>
  <p><a href="{{.MatchURL}}" style="display: inline-block; background-color: #6366f1; color: #ffffff; text-decoration: none; padding: 12px 24px; border-radius: 8px;">Register again</a></p>
  <p style="font-size: 12px; color: #9ca3af;">This mail was sent automatically by G-Match.</p>
</body>
</html>`))

var expiredText = texttemplate.Must(texttemplate.New("expired").Parse(`Hi {{.Name}},

Your roommate matching request left the queue because no match was found
within the waiting window. You can register again any time.

Register again: {{.MatchURL}}

This mail was sent automatically by G-Match.
`))

// render produces the subject and both bodies for an event. When HTML
// rendering fails the html body comes back empty and the caller falls back
// to plain text.
func render(ev Event, frontendURL string) (subject, htmlBody, textBody string) {
	data := templateData{
		Name:     ev.Name,
		Partner:  ev.Partner,
		MatchURL: strings.TrimRight(frontendURL, "/") + "/match",
	}
	if ev.Score > 0 {
		data.Score = fmt.Sprintf("%.1f", ev.Score)
	}

	var htmlTmpl *htmltemplate.Template
	var textTmpl *texttemplate.Template
	switch ev.Kind {
	case KindExpired:
		subject = expiredSubject
		htmlTmpl, textTmpl = expiredHTML, expiredText
	default:
		subject = matchedSubject
		htmlTmpl, textTmpl = matchedHTML, matchedText
	}

	var text strings.Builder
	if err := textTmpl.Execute(&text, data); err != nil {
		// Last-resort fallback: the subject alone still tells the user what happened.
		textBody = subject
	} else {
		textBody = text.String()
	}

	var html strings.Builder
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return subject, "", textBody
	}
	return subject, html.String(), textBody
}
