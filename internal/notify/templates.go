package notify

import (
	"bytes"
	"text/template"
	"time"
)

var (
	confirmedTmpl = template.Must(template.New("confirmed").Parse(`Hello {{.Name}},

Your booking for "{{.Title}}" is confirmed.

  When:   {{.When}}
  Where:  {{.Venue}}
  Ticket: {{.TicketID}}

Your ticket is attached. Show its QR code at the entrance.
`))

	rejectedTmpl = template.Must(template.New("rejected").Parse(`Hello {{.Name}},

Your booking for "{{.Title}}" on {{.When}} was not approved.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}
Your seat has been released.
`))
)

type mailData struct {
	Name     string
	Title    string
	When     string
	Venue    string
	TicketID string
	Reason   string
}

func when(t time.Time) string {
	return t.Format("Mon 02 Jan 2006, 15:04 MST")
}

func render(t *template.Template, d mailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
