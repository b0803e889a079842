// Package gmail wraps the Gmail REST API behind the narrow mailbox
// capability the responder needs: list unread, fetch detail, send a threaded
// reply, mark read.
package gmail

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const unreadQuery = "is:unread is:inbox"

// Client is a mailbox bound to one Gmail account via an OAuth refresh token.
type Client struct {
	svc *gmailapi.Service
}

// NewClient builds a Gmail client from OAuth application credentials and an
// account refresh token. Token refresh happens lazily on first use.
func NewClient(ctx context.Context, clientID, clientSecret, refreshToken string) (*Client, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("gmail: refresh token is required")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			gmailapi.GmailReadonlyScope,
			gmailapi.GmailSendScope,
			gmailapi.GmailModifyScope,
		},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail: creating service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListUnread returns the ids of up to max unread inbox messages, in the
// order the API returns them.
func (c *Client) ListUnread(ctx context.Context, max int64) ([]string, error) {
	resp, err := c.svc.Users.Messages.List("me").
		Q(unreadQuery).
		MaxResults(max).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: listing unread messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Message fetches the full detail of one message.
func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	m, err := c.svc.Users.Messages.Get("me", id).
		Format("full").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: fetching message %s: %w", id, err)
	}
	return parseMessage(m), nil
}

// Reply sends body as a plain-text reply threaded under msg's conversation.
func (c *Client) Reply(ctx context.Context, msg *Message, body string) error {
	_, err := c.svc.Users.Messages.Send("me", &gmailapi.Message{
		Raw:      buildReplyRaw(msg, body),
		ThreadId: msg.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: sending reply in thread %s: %w", msg.ThreadID, err)
	}
	return nil
}

// MarkRead removes the UNREAD label from the message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Modify("me", id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: marking message %s read: %w", id, err)
	}
	return nil
}
