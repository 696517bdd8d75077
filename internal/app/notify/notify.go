// Package notify sends best-effort transactional emails. Delivery never
// blocks or fails the operation that triggered it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vaultline/ledger/pkg/logger"
)

// Kind names a notification template.
type Kind string

const (
	KindInvestmentConfirmation Kind = "investment_confirmation"
	KindLoanSubmitted          Kind = "loan_submitted"
	KindLoanApproved           Kind = "loan_approved"
	KindLoanRejected           Kind = "loan_rejected"
	KindDepositApproved        Kind = "deposit_approved"
	KindDepositRejected        Kind = "deposit_rejected"
	KindWithdrawalApproved     Kind = "withdrawal_approved"
	KindWithdrawalRejected     Kind = "withdrawal_rejected"
)

// Notifier delivers a notification of kind to recipient.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, recipient string, data map[string]any)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Kind, string, map[string]any) {}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender transports a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Observer is told the outcome of every delivery attempt ("sent", "failed", "skipped").
type Observer func(kind Kind, outcome string)

// Dispatcher renders and sends notifications on background goroutines.
type Dispatcher struct {
	sender   Sender
	renderer *Renderer
	log      *logger.Logger
	timeout  time.Duration
	observe  Observer

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher returns a Dispatcher. timeout bounds each delivery.
func NewDispatcher(sender Sender, renderer *Renderer, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	if renderer == nil {
		renderer = DefaultRenderer()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, renderer: renderer, log: log, timeout: timeout}
}

// SetObserver installs a delivery outcome hook.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observe = o
}

// Notify queues a delivery and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, kind Kind, recipient string, data map[string]any) {
	entry := d.log.FromContext(ctx).WithField("kind", kind)
	if recipient == "" {
		entry.Debug("notification skipped: no recipient")
		d.record(kind, "skipped")
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		entry.Warn("notification dropped: dispatcher closed")
		d.record(kind, "skipped")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				entry.WithField("panic", r).Error("notification panicked")
				d.record(kind, "failed")
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		msg, err := d.renderer.Render(kind, recipient, data)
		if err == nil {
			err = d.sender.Send(sendCtx, msg)
		}
		if err != nil {
			entry.WithError(err).Warn("notification failed")
			d.record(kind, "failed")
			return
		}
		entry.Debug("notification sent")
		d.record(kind, "sent")
	}()
}

// Close stops accepting notifications and waits for in-flight deliveries
// until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) record(kind Kind, outcome string) {
	if d.observe != nil {
		d.observe(kind, outcome)
	}
}
