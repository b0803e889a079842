package gmail

import (
	"encoding/base64"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
)

// Message is the full view of one inbox message: the fields rules match on
// plus the identifiers needed to thread a reply.
type Message struct {
	ID         string
	ThreadID   string
	MessageID  string // RFC 5322 Message-ID header
	References string
	From       string
	To         string
	Subject    string
	Date       string
	Body       string
	LabelIDs   []string
}

// parseMessage extracts headers and the plain-text body from a full-format
// API message.
func parseMessage(m *gmailapi.Message) *Message {
	msg := &Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		LabelIDs: m.LabelIds,
	}
	if m.Payload == nil {
		return msg
	}

	msg.From = header(m.Payload, "From")
	msg.To = header(m.Payload, "To")
	msg.Subject = header(m.Payload, "Subject")
	msg.Date = header(m.Payload, "Date")
	msg.References = header(m.Payload, "References")
	msg.MessageID = header(m.Payload, "Message-ID")
	msg.Body = textBody(m.Payload)
	return msg
}

func header(p *gmailapi.MessagePart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// textBody returns the message's plain-text body: the payload body when the
// message is single-part, otherwise the first text/plain part.
func textBody(p *gmailapi.MessagePart) string {
	if p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, part := range p.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			return decodeBody(part.Body.Data)
		}
	}
	return ""
}

// decodeBody decodes the API's base64url body data, tolerating both padded
// and unpadded forms.
func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

// replySubject prefixes "Re:" unless the subject already carries it.
func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re:") {
		return subject
	}
	return "Re: " + subject
}

// buildReplyRaw assembles the base64url-encoded RFC 2822 reply to msg,
// chaining References with the replied-to Message-ID so clients thread it
// under the original conversation.
func buildReplyRaw(msg *Message, body string) string {
	refs := msg.References
	if msg.MessageID != "" {
		if refs != "" {
			refs += " "
		}
		refs += msg.MessageID
	}

	lines := []string{
		"To: " + msg.From,
		"Subject: " + replySubject(msg.Subject),
		"In-Reply-To: " + msg.MessageID,
		"References: " + refs,
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(lines, "\r\n")))
}
