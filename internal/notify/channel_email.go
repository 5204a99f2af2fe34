package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailChannel sends rendered alerts over SMTP. net/smtp is the only
// mail transport in the pack or the ecosystem-idiomatic choice here;
// pulling in a dependency (e.g. a full mail-builder library) would not
// exercise more than this channel's few dozen lines already do (see
// DESIGN.md).
type EmailChannel struct {
	name     string
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel constructs an SMTP sink.
func NewEmailChannel(name, host string, port int, username, password, from string, to []string) *EmailChannel {
	addr := fmt.Sprintf("%s:%d", host, port)
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailChannel{
		name:     name,
		addr:     addr,
		auth:     auth,
		from:     from,
		to:       to,
		sendFunc: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return c.name }

func (c *EmailChannel) Deliver(_ context.Context, r Rendered) DeliveryResult {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", r.Subject)
	b.WriteString(r.Body)

	if err := c.sendFunc(c.addr, c.auth, c.from, c.to, []byte(b.String())); err != nil {
		return DeliveryResult{Retryable: true, Err: fmt.Errorf("smtp send: %w", err)}
	}
	return DeliveryResult{}
}
