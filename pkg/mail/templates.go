package mail

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/examprep/examprep/pkg/markdown"
)

// LinkEmail is the data behind the account emails: a greeting, a single
// action link and how long it stays valid.
type LinkEmail struct {
	AppName string
	To      string
	Name    string
	Link    string
	TTL     time.Duration
}

// Expiry returns TTL in words, e.g. "24 hours".
func (d LinkEmail) Expiry() string {
	switch h := d.TTL.Hours(); {
	case h >= 1 && h == float64(int(h)):
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", int(h))
	default:
		return fmt.Sprintf("%d minutes", int(d.TTL.Minutes()))
	}
}

var (
	verificationTmpl = template.Must(template.New("verify").Parse(`Hi {{if .Name}}{{.Name}}{{else}}there{{end}},

Thanks for signing up to **{{.AppName}}**. Confirm your email address to start practising:

[Verify my email]({{.Link}})

Or paste this link into your browser: {{.Link}}

The link expires in {{.Expiry}}. If you did not create an account you can ignore this email.
`))

	resetTmpl = template.Must(template.New("reset").Parse(`Hi {{if .Name}}{{.Name}}{{else}}there{{end}},

Someone asked to reset the password for your **{{.AppName}}** account.

[Choose a new password]({{.Link}})

Or paste this link into your browser: {{.Link}}

The link expires in {{.Expiry}} and works once. If you did not ask for a reset, your password is unchanged and you can ignore this email.
`))
)

// VerificationEmail builds the email-address confirmation message.
func VerificationEmail(d LinkEmail) (Message, error) {
	return build(verificationTmpl, d, "Verify your "+d.AppName+" email")
}

// PasswordResetEmail builds the password reset message.
func PasswordResetEmail(d LinkEmail) (Message, error) {
	return build(resetTmpl, d, "Reset your "+d.AppName+" password")
}

func build(t *template.Template, d LinkEmail, subject string) (Message, error) {
	var src strings.Builder
	if err := t.Execute(&src, d); err != nil {
		return Message{}, fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	html, err := markdown.ToHTML(src.String())
	if err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", t.Name(), err)
	}
	return Message{
		To:      d.To,
		ToName:  d.Name,
		Subject: subject,
		Text:    src.String(),
		HTML:    html,
	}, nil
}
