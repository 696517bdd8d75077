package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

type entry struct {
	subject string
	body    *template.Template
}

// Renderer turns a Kind plus data into an email.
type Renderer struct {
	entries map[Kind]entry
}

const layout = `<!doctype html><html><body style="font-family:sans-serif">{{template "content" .}}<p style="color:#888">Vaultline</p></body></html>`

var defaultTemplates = map[Kind][2]string{
	KindInvestmentConfirmation: {"Your investment is active",
		`<p>Your investment of <b>${{.amount}}</b> in the {{.planTitle}} plan is active.</p>
<p>Expected return: ${{.expectedReturn}}. Ends {{.endDate}}.</p>`},
	KindLoanSubmitted: {"New loan application {{.reference}}",
		`<p>A loan application for <b>${{.amount}}</b> ({{.planTitle}}) was submitted by {{.userEmail}}.</p>
<p>Reference: {{.reference}}</p><p>Purpose: {{.purpose}}</p>`},
	KindLoanApproved: {"Your loan {{.reference}} was approved",
		`<p>Your loan of <b>${{.amount}}</b> was approved and credited to your balance.</p>
<p>Total to repay: ${{.totalRepaymentAmount}} by {{.dueDate}}.</p>`},
	KindLoanRejected: {"Your loan {{.reference}} was declined",
		`<p>Your loan application for ${{.amount}} was declined.</p>{{if .adminNotes}}<p>Notes: {{.adminNotes}}</p>{{end}}`},
	KindDepositApproved: {"Deposit {{.reference}} completed",
		`<p>Your deposit of <b>${{.amount}}</b> ({{.cryptoAmount}} {{.cryptoType}}) has been credited.</p>`},
	KindDepositRejected: {"Deposit {{.reference}} rejected",
		`<p>Your deposit of ${{.amount}} in {{.cryptoType}} was rejected.</p>{{if .adminNotes}}<p>Notes: {{.adminNotes}}</p>{{end}}`},
	KindWithdrawalApproved: {"Withdrawal {{.reference}} completed",
		`<p>Your withdrawal of <b>${{.amount}}</b> ({{.cryptoAmount}} {{.cryptoType}}) was sent to {{.walletAddress}}.</p>`},
	KindWithdrawalRejected: {"Withdrawal {{.reference}} rejected",
		`<p>Your withdrawal of ${{.amount}} in {{.cryptoType}} was rejected.</p>{{if .adminNotes}}<p>Notes: {{.adminNotes}}</p>{{end}}`},
}

// DefaultRenderer returns the built-in templates.
func DefaultRenderer() *Renderer {
	r, err := NewRenderer(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRenderer parses subject/body pairs keyed by kind.
func NewRenderer(templates map[Kind][2]string) (*Renderer, error) {
	r := &Renderer{entries: make(map[Kind]entry, len(templates))}
	for kind, pair := range templates {
		t, err := template.New(string(kind)).Option("missingkey=zero").Parse(layout)
		if err == nil {
			_, err = t.New("content").Parse(pair[1])
		}
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}
		r.entries[kind] = entry{subject: pair[0], body: t}
	}
	return r, nil
}

// Render builds the message for kind.
func (r *Renderer) Render(kind Kind, to string, data map[string]any) (Message, error) {
	e, ok := r.entries[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	var body bytes.Buffer
	if err := e.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", kind, err)
	}
	return Message{To: to, Subject: renderSubject(e.subject, data), HTML: body.String()}, nil
}

// renderSubject substitutes {{.key}} placeholders without HTML escaping.
func renderSubject(subject string, data map[string]any) string {
	for key, value := range data {
		subject = strings.ReplaceAll(subject, "{{."+key+"}}", fmt.Sprint(value))
	}
	return subject
}
