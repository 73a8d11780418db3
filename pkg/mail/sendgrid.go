package mail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/examprep/examprep/pkg/httputil"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
	sendAttempts     = 3
)

// retryDelay is the first backoff interval between delivery attempts.
var retryDelay = time.Second

// SendGrid delivers through the SendGrid v3 API. Server errors and rate
// limiting are retried with backoff.
type SendGrid struct {
	key  string
	host string
	from *sgmail.Email
}

// NewSendGrid creates a sender that mails from fromName <fromEmail>.
func NewSendGrid(key, fromName, fromEmail string) *SendGrid {
	return &SendGrid{key: key, host: sendgridHost, from: sgmail.NewEmail(fromName, fromEmail)}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	body := sgmail.GetRequestBody(s.prepare(msg))

	return httputil.Retry(ctx, sendAttempts, retryDelay, func() error {
		req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgrid.MakeRequestWithContext(ctx, req)
		if err != nil {
			return httputil.Retryable(fmt.Errorf("sendgrid: %w", err))
		}
		switch {
		case httputil.TransientStatus(res.StatusCode):
			wait := httputil.ParseRetryAfter(http.Header(res.Headers).Get("Retry-After"), time.Now())
			return httputil.RetryAfter(fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body), wait)
		case res.StatusCode >= http.StatusBadRequest:
			return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
		}
		return nil
	})
}

func (s *SendGrid) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)
	return m
}
