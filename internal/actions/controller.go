// Package actions applies operator actions to a single ticket: drafting a
// reply and sending it through the email backend.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ticketdesk/internal/agents"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/gateway"
	"ticketdesk/internal/refresh"
	"ticketdesk/internal/store"
)

const DefaultAuthor = "support@ticketdesk.local"

var (
	ErrClosed          = errors.New("ticket is closed")
	ErrNoDraft         = errors.New("last message is not a drafted reply")
	ErrNotDrafted      = errors.New("ticket has not been drafted yet")
	ErrSendNotAccepted = errors.New("backend did not accept the reply")
)

// Drafter produces reply text for a ticket.
type Drafter interface {
	Draft(ctx context.Context, t domain.Ticket) (string, error)
}

// GatewayDrafter delegates drafting to the backend's generate-response endpoint.
type GatewayDrafter struct {
	Gateway interface {
		GenerateResponse(ctx context.Context, t domain.Ticket) (string, error)
	}
}

func (d GatewayDrafter) Draft(ctx context.Context, t domain.Ticket) (string, error) {
	return d.Gateway.GenerateResponse(ctx, t)
}

// LocalDrafter picks a responder profile and drafts in-process. It never
// fails: provider errors degrade to agents.Apology.
type LocalDrafter struct {
	Agents *agents.Service
}

func (d LocalDrafter) Draft(ctx context.Context, t domain.Ticket) (string, error) {
	content := t.Description
	if last, ok := t.Last(); ok {
		content = last.Content
	}
	_, text := d.Agents.Reply(ctx, t.Title, content)
	return text, nil
}

// Sender delivers a reply through the backend.
type Sender interface {
	SendEmail(ctx context.Context, ticketID int, content, recipient string) (gateway.SendResult, error)
}

// Banner receives errors that belong on the dashboard's top-level banner.
type Banner interface {
	ReportError(kind refresh.ErrorKind, err error)
}

type Controller struct {
	Store   *store.Store
	Drafter Drafter
	Sender  Sender
	Banner  Banner
	Journal refresh.Recorder
	Author  string
	Logger  *slog.Logger
	Now     func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// GenerateDraft appends a drafted reply to the ticket and moves it to PENDING.
// A failed draft leaves the ticket untouched and does not reach the banner.
func (c *Controller) GenerateDraft(ctx context.Context, id int) (domain.Ticket, error) {
	t, err := c.Store.Get(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.StatusClosed {
		return t, fmt.Errorf("draft ticket %d: %w", id, ErrClosed)
	}
	text, err := c.Drafter.Draft(ctx, t)
	if err != nil {
		c.logger().Warn("draft failed", "ticket", id, "error", err)
		return t, fmt.Errorf("draft ticket %d: %w", id, err)
	}

	now := c.now()
	author := c.Author
	if author == "" {
		author = DefaultAuthor
	}
	updated, err := c.Store.Update(id, func(t *domain.Ticket) error {
		if t.Status == domain.StatusClosed {
			return ErrClosed
		}
		t.Messages = append(t.Messages, domain.Message{
			ID:        strconv.FormatInt(now.UnixMilli(), 10),
			Subject:   "Re: " + t.Title,
			Content:   text,
			From:      author,
			Timestamp: now.UTC().Format(time.RFC3339),
			Type:      domain.MessageSent,
		})
		t.Status = domain.StatusPending
		t.LastMessage = now.UTC().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		return updated, fmt.Errorf("draft ticket %d: %w", id, err)
	}
	c.logger().Info("draft generated", "ticket", id)
	c.record(ctx, "draft.generated", id, map[string]any{"chars": len(text)})
	return updated, nil
}

// SendResponse sends the drafted last message to the ticket's sender and,
// once the backend accepts it, closes the ticket locally without re-fetching.
func (c *Controller) SendResponse(ctx context.Context, id int) (domain.Ticket, error) {
	t, err := c.Store.Get(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := CanSend(t); err != nil {
		return t, fmt.Errorf("send ticket %d: %w", id, err)
	}
	last, _ := t.Last()

	res, err := c.Sender.SendEmail(ctx, id, last.Content, t.Sender.Email)
	if err != nil {
		if c.Banner != nil {
			c.Banner.ReportError(refresh.KindSend, err)
		}
		c.record(ctx, "send.failed", id, map[string]any{"error": err.Error()})
		return t, fmt.Errorf("send ticket %d: %w", id, err)
	}
	if !res.Accepted() {
		c.logger().Warn("send not accepted", "ticket", id, "message", res.Message)
		return t, fmt.Errorf("send ticket %d: %w: %q", id, ErrSendNotAccepted, res.Message)
	}

	updated, err := c.Store.Update(id, func(t *domain.Ticket) error {
		t.Status = domain.StatusClosed
		return nil
	})
	if err != nil {
		return updated, fmt.Errorf("send ticket %d: %w", id, err)
	}
	c.logger().Info("reply sent", "ticket", id, "recipient", t.Sender.Email)
	c.record(ctx, "reply.sent", id, map[string]any{"recipient": t.Sender.Email})
	return updated, nil
}

// CanSend reports why a ticket cannot be sent, or nil when it can. Sending
// needs a drafted last message and is never allowed from NEW or CLOSED.
func CanSend(t domain.Ticket) error {
	switch t.Status {
	case domain.StatusClosed:
		return ErrClosed
	case domain.StatusNew:
		return ErrNotDrafted
	}
	last, ok := t.Last()
	if !ok || last.Type != domain.MessageSent {
		return ErrNoDraft
	}
	return nil
}

func (c *Controller) record(ctx context.Context, kind string, id int, payload map[string]any) {
	if c.Journal == nil {
		return
	}
	if err := c.Journal.Record(ctx, kind, id, payload); err != nil {
		c.logger().Warn("journal write failed", "kind", kind, "error", err)
	}
}
