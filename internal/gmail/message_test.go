package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"
)

func TestParseMessage_SinglePart(t *testing.T) {
	m := &gmailapi.Message{
		Id:       "m1",
		ThreadId: "t1",
		LabelIds: []string{"UNREAD", "INBOX"},
		Payload: &gmailapi.MessagePart{
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "me@example.com"},
				{Name: "Subject", Value: "Hello"},
				{Name: "Message-Id", Value: "<abc@mail.example.com>"},
			},
			Body: &gmailapi.MessagePartBody{
				Data: base64.RawURLEncoding.EncodeToString([]byte("plain body")),
			},
		},
	}

	msg := parseMessage(m)
	if msg.ID != "m1" || msg.ThreadID != "t1" {
		t.Errorf("ids = %q/%q", msg.ID, msg.ThreadID)
	}
	if msg.From != "Alice <alice@example.com>" {
		t.Errorf("From = %q", msg.From)
	}
	// Lowercase Message-Id header variant must still be picked up.
	if msg.MessageID != "<abc@mail.example.com>" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.Body != "plain body" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestParseMessage_MultipartPicksTextPlain(t *testing.T) {
	m := &gmailapi.Message{
		Id: "m2",
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "text/html",
					Body: &gmailapi.MessagePartBody{
						Data: base64.RawURLEncoding.EncodeToString([]byte("<b>html</b>")),
					},
				},
				{
					MimeType: "text/plain",
					Body: &gmailapi.MessagePartBody{
						Data: base64.RawURLEncoding.EncodeToString([]byte("text body")),
					},
				},
			},
		},
	}

	if got := parseMessage(m).Body; got != "text body" {
		t.Errorf("Body = %q, want %q", got, "text body")
	}
}

func TestParseMessage_NoPayload(t *testing.T) {
	msg := parseMessage(&gmailapi.Message{Id: "m3"})
	if msg.Body != "" || msg.From != "" {
		t.Errorf("empty payload produced %+v", msg)
	}
}

func TestReplySubject(t *testing.T) {
	if got := replySubject("Hello"); got != "Re: Hello" {
		t.Errorf("replySubject = %q", got)
	}
	if got := replySubject("Re: Hello"); got != "Re: Hello" {
		t.Errorf("replySubject did not stay idempotent: %q", got)
	}
}

func TestBuildReplyRaw(t *testing.T) {
	msg := &Message{
		ThreadID:   "t1",
		MessageID:  "<orig@mail.example.com>",
		References: "<first@mail.example.com>",
		From:       "alice@example.com",
		Subject:    "Hello",
	}

	raw := buildReplyRaw(msg, "thanks, noted")
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw is not unpadded base64url: %v", err)
	}
	text := string(decoded)

	for _, want := range []string{
		"To: alice@example.com\r\n",
		"Subject: Re: Hello\r\n",
		"In-Reply-To: <orig@mail.example.com>\r\n",
		"References: <first@mail.example.com> <orig@mail.example.com>\r\n",
		"\r\n\r\nthanks, noted",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("reply missing %q in:\n%s", want, text)
		}
	}
}

func TestBuildReplyRaw_NoExistingReferences(t *testing.T) {
	msg := &Message{MessageID: "<orig@x>", From: "a@x", Subject: "Re: ping"}

	decoded, _ := base64.RawURLEncoding.DecodeString(buildReplyRaw(msg, "pong"))
	text := string(decoded)

	if !strings.Contains(text, "References: <orig@x>\r\n") {
		t.Errorf("References not seeded from Message-ID:\n%s", text)
	}
	if strings.Contains(text, "Re: Re:") {
		t.Errorf("double Re: prefix:\n%s", text)
	}
}
