package outbox

import (
	"fmt"
	"html"
	"strings"
)

// ReplyContext identifies the event being replied to and carries the
// material needed to synthesize the quoted bodies client-side.
type ReplyContext struct {
	EventID string
	RoomID  string
	Sender  string
	Body    string // display body of the quoted message
}

// QuotedBody builds the plain-text fallback: every quoted line prefixed
// with "> ", the sender id prefixed on the first, then a blank line and
// the reply itself.
func (r *ReplyContext) QuotedBody(reply string) string {
	lines := strings.Split(r.Body, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i == 0 {
			fmt.Fprintf(&b, "> <%s> %s\n", r.Sender, line)
			continue
		}
		fmt.Fprintf(&b, "> %s\n", line)
	}
	b.WriteString("\n")
	b.WriteString(reply)
	return b.String()
}

// QuotedFormattedBody builds the rich reply body referencing the quoted
// event and room, with the quoted text and reply HTML-escaped.
func (r *ReplyContext) QuotedFormattedBody(reply string) string {
	return fmt.Sprintf(
		`<mx-reply><blockquote><a href="https://matrix.to/#/%s/%s">In reply to</a> <a href="https://matrix.to/#/%s">%s</a><br>%s</blockquote></mx-reply>%s`,
		r.RoomID, r.EventID, r.Sender, r.Sender,
		html.EscapeString(r.Body), html.EscapeString(reply))
}
