// Package sender implements delivery channels.
//
// Every channel classifies its failures with domain.Transient, domain.Terminal
// or domain.Skipped so the orchestrator can decide whether to retry.
package sender

import (
	"context"
	"sync"

	"outreach/internal/domain"
	"outreach/internal/message"
	logx "outreach/pkg/logx"
)

type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// DryRun logs every message and reports success without contacting anyone.
type DryRun struct {
	log logx.Logger

	mu   sync.Mutex
	sent []string
}

func NewDryRun(log logx.Logger) *DryRun {
	return &DryRun{log: log.With(logx.String("comp", "sender.dryrun"))}
}

func (d *DryRun) Send(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("dry run send", logx.String("recipient", recipient), logx.String("message", message.Truncate(text, 50)))
	d.mu.Lock()
	d.sent = append(d.sent, domain.NormalizeID(recipient))
	d.mu.Unlock()
	return nil
}

// Sent returns the recipients seen so far.
func (d *DryRun) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}
