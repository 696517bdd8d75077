package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/ledger/internal/config"
	"github.com/vaultline/ledger/pkg/logger"
)

type captureSender struct {
	mu    sync.Mutex
	msgs  []Message
	err   error
	block chan struct{}
}

func (c *captureSender) Send(ctx context.Context, msg Message) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *captureSender) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, nil, time.Second, logger.NewNop())

	var outcomes []string
	var mu sync.Mutex
	d.SetObserver(func(kind Kind, outcome string) {
		mu.Lock()
		outcomes = append(outcomes, string(kind)+":"+outcome)
		mu.Unlock()
	})

	d.Notify(context.Background(), KindLoanApproved, "a@example.com", map[string]any{
		"reference": "LOAN-1-ABCDEF", "amount": "1000.00", "totalRepaymentAmount": "1050.00", "dueDate": "2024-02-01",
	})
	d.Notify(context.Background(), KindLoanApproved, "", nil)
	require.NoError(t, d.Close(context.Background()))

	msgs := sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a@example.com", msgs[0].To)
	assert.Equal(t, "Your loan LOAN-1-ABCDEF was approved", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTML, "$1050.00")
	assert.ElementsMatch(t, []string{"loan_approved:sent", "loan_approved:skipped"}, outcomes)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	sender := &captureSender{err: errors.New("relay down")}
	d := NewDispatcher(sender, nil, time.Second, logger.NewNop())

	var failed int32
	d.SetObserver(func(_ Kind, outcome string) {
		if outcome == "failed" {
			atomic.AddInt32(&failed, 1)
		}
	})
	d.Notify(context.Background(), KindDepositRejected, "a@example.com", map[string]any{"amount": "5"})
	d.Notify(context.Background(), Kind("unknown"), "a@example.com", nil)
	require.NoError(t, d.Close(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&failed))
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	sender := &captureSender{block: make(chan struct{})}
	d := NewDispatcher(sender, nil, time.Second, logger.NewNop())
	d.Notify(context.Background(), KindDepositApproved, "a@example.com", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sender.block)
	require.NoError(t, d.Close(context.Background()))

	d.Notify(context.Background(), KindDepositApproved, "a@example.com", nil)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sender.sent(), 1, "notifications after close are dropped")
}

func TestRendererEscapesHTML(t *testing.T) {
	msg, err := DefaultRenderer().Render(KindLoanRejected, "a@example.com", map[string]any{
		"reference": "LOAN-1", "amount": "10", "adminNotes": "<script>x</script>",
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestEveryKindHasTemplate(t *testing.T) {
	r := DefaultRenderer()
	for _, kind := range []Kind{
		KindInvestmentConfirmation, KindLoanSubmitted, KindLoanApproved, KindLoanRejected,
		KindDepositApproved, KindDepositRejected, KindWithdrawalApproved, KindWithdrawalRejected,
	} {
		_, err := r.Render(kind, "x@example.com", map[string]any{})
		assert.NoError(t, err, kind)
	}
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("from@example.com", Message{To: "to@example.com", Subject: "Hi\r\nBcc: x", HTML: "<p>x</p>"}, time.Unix(0, 0)))
	assert.Contains(t, raw, "Subject: Hi  Bcc: x\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>x</p>"))
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(config.MailConfig{Driver: "log"}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = NewSender(config.MailConfig{Driver: "smtp", SMTPHost: "mail", SMTPPort: 25}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	_, err = NewSender(config.MailConfig{Driver: "pigeon"}, logger.NewNop())
	assert.Error(t, err)
}
