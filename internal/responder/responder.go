// Package responder drives one auto-reply pass over a batch of unread
// messages: match each candidate against the enabled rules in stored order,
// generate and send a reply on the first match, and record the outcome.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/mailpilot/mailpilot/internal/gmail"
	"github.com/mailpilot/mailpilot/internal/rules"
	"github.com/mailpilot/mailpilot/internal/storage"
)

// DefaultBatchSize is the maximum number of unread candidates fetched per run.
const DefaultBatchSize = 20

// ErrMailboxUnavailable classifies a failed candidate listing: the run
// produced no work and can be retried wholesale.
var ErrMailboxUnavailable = errors.New("mailbox unavailable")

// Mailbox is the capability the runner needs from a mail provider.
// *gmail.Client satisfies it; tests inject fakes.
type Mailbox interface {
	ListUnread(ctx context.Context, max int64) ([]string, error)
	Message(ctx context.Context, id string) (*gmail.Message, error)
	Reply(ctx context.Context, msg *gmail.Message, body string) error
	MarkRead(ctx context.Context, id string) error
}

// Generator produces reply text for a matched message.
type Generator interface {
	GenerateReply(ctx context.Context, from, subject, body, instructions string) (string, error)
}

// Store is the slice of the persistent store the runner touches: it reads
// rules and appends log entries, nothing else.
type Store interface {
	Rules() ([]rules.Rule, error)
	AppendLog(entry storage.LogEntry) error
}

// Options modify a single run.
type Options struct {
	// Diagnostics records an Inspection per candidate in the Result,
	// exposing self-skips and rule matches without log inspection.
	Diagnostics bool
}

// Inspection describes how one candidate was handled.
type Inspection struct {
	From        string `json:"from"`
	Subject     string `json:"subject"`
	SelfSkipped bool   `json:"selfSkipped"`
	MatchedRule string `json:"matchedRule,omitempty"`
}

// Result reports one run.
type Result struct {
	Processed int          `json:"processed"`
	Inspected []Inspection `json:"inspected,omitempty"`
}

// Runner orchestrates auto-reply runs. Overlapping runs in the same process
// are coalesced: a trigger arriving while a run is in flight shares that
// run's result instead of racing it.
type Runner struct {
	store       Store
	gen         Generator
	selfAddress string
	batchSize   int64
	logger      *slog.Logger

	group singleflight.Group
}

// New creates a Runner. selfAddress is the owner's own mailbox address used
// for self-exclusion; batchSize <= 0 selects DefaultBatchSize.
func New(store Store, gen Generator, selfAddress string, batchSize int64, logger *slog.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       store,
		gen:         gen,
		selfAddress: selfAddress,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run executes one pass over mbx. Failures before any message is fetched
// (rule preload, candidate listing) are fatal to the run; failures inside a
// single message's boundary are logged and never abort the rest of the batch.
func (r *Runner) Run(ctx context.Context, mbx Mailbox, opts Options) (*Result, error) {
	v, err, shared := r.group.Do("run", func() (any, error) {
		return r.run(ctx, mbx, opts)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("trigger coalesced into in-flight run")
	}
	return v.(*Result), nil
}

func (r *Runner) run(ctx context.Context, mbx Mailbox, opts Options) (*Result, error) {
	ruleSet, err := r.store.Rules()
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	enabled := rules.Enabled(ruleSet)
	if len(enabled) == 0 {
		// No reason to touch the mailbox at all.
		r.logger.Info("run skipped, no enabled rules")
		return &Result{Processed: 0}, nil
	}

	ids, err := mbx.ListUnread(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}
	r.logger.Info("run started", "candidates", len(ids), "enabled_rules", len(enabled))

	res := &Result{}
	for _, id := range ids {
		out, perr := r.processOne(ctx, mbx, enabled, id)
		if perr != nil {
			r.logger.Error("message processing failed", "id", id, "error", perr)
			if logErr := r.store.AppendLog(storage.NewErrorEntry(perr)); logErr != nil {
				r.logger.Error("appending error log entry failed", "error", logErr)
			}
			continue
		}
		if out.processed {
			res.Processed++
		}
		if opts.Diagnostics {
			res.Inspected = append(res.Inspected, out.insp)
		}
	}

	r.logger.Info("run finished", "processed", res.Processed)
	return res, nil
}

type outcome struct {
	insp      Inspection
	processed bool
}

// processOne is the failure boundary for a single candidate: any error it
// returns is recorded as an error log entry by the caller and processing
// moves on to the next candidate.
func (r *Runner) processOne(ctx context.Context, mbx Mailbox, enabled []rules.Rule, id string) (outcome, error) {
	msg, err := mbx.Message(ctx, id)
	if err != nil {
		return outcome{}, fmt.Errorf("fetching message detail: %w", err)
	}

	insp := Inspection{From: msg.From, Subject: msg.Subject}

	// Never auto-reply to the owner's own mail, regardless of rule content.
	if r.selfAddress != "" && strings.Contains(msg.From, r.selfAddress) {
		insp.SelfSkipped = true
		r.logger.Debug("self mail skipped", "id", id)
		return outcome{insp: insp}, nil
	}

	email := rules.Email{From: msg.From, Subject: msg.Subject, Body: msg.Body}
	for _, rule := range enabled {
		if !rule.Matches(email) {
			continue
		}

		reply, err := r.gen.GenerateReply(ctx, msg.From, msg.Subject, msg.Body, rule.ReplyInstructions)
		if err != nil {
			return outcome{}, fmt.Errorf("generating reply: %w", err)
		}
		if err := mbx.Reply(ctx, msg, reply); err != nil {
			return outcome{}, fmt.Errorf("sending reply: %w", err)
		}
		if err := mbx.MarkRead(ctx, msg.ID); err != nil {
			return outcome{}, fmt.Errorf("marking read: %w", err)
		}
		if err := r.store.AppendLog(storage.NewSentEntry(msg.From, msg.Subject, rule.ID, rule.Name, reply)); err != nil {
			return outcome{}, fmt.Errorf("appending log: %w", err)
		}

		r.logger.Info("reply sent", "id", id, "rule", rule.Name)
		insp.MatchedRule = rule.Name
		return outcome{insp: insp, processed: true}, nil
	}

	// No rule matched: silently passed over, left unread, not logged.
	return outcome{insp: insp}, nil
}
