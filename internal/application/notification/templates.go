package notification

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/plantify-account/internal/domain"
)

const (
	otpSubject   = "Verify your PlantifyAI account"
	resetSubject = "Reset your PlantifyAI password"
)

var otpText = texttemplate.Must(texttemplate.New("otp").Parse(`Hello{{if .Name}} {{.Name}}{{end}},

Your verification code for PlantifyAI is: {{.Code}}

This code is valid for {{.Validity}}.

Thank you,
PlantifyAI Team
`))

var otpHTML = htmltemplate.Must(htmltemplate.New("otp").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eaeaea; border-radius: 5px;">
    <h1 style="color: #2e7d32; text-align: center;">PlantifyAI</h1>
    <p>Hello{{if .Name}} {{.Name}}{{end}},</p>
    <p>Your verification code for PlantifyAI is:</p>
    <div style="background-color: #f9f9f9; padding: 15px; text-align: center; font-size: 24px; letter-spacing: 5px; font-weight: bold; margin: 20px 0; border-radius: 4px;">{{.Code}}</div>
    <p>This code is valid for <strong>{{.Validity}}</strong>.</p>
    <p>If you didn't request this code, you can safely ignore this email.</p>
    <p>Thank you,<br>PlantifyAI Team</p>
  </div>
</body>
</html>
`))

var resetText = texttemplate.Must(texttemplate.New("reset").Parse(`Hello{{if .Name}} {{.Name}}{{end}},

We received a request to reset your PlantifyAI password. Open the link below to choose a new one:

{{.Link}}

The link can be used once and is valid for {{.Validity}}.
If you did not ask for a reset, you can ignore this email.

Thank you,
PlantifyAI Team
`))

var resetHTML = htmltemplate.Must(htmltemplate.New("reset").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eaeaea; border-radius: 5px;">
    <h1 style="color: #2e7d32; text-align: center;">PlantifyAI</h1>
    <p>Hello{{if .Name}} {{.Name}}{{end}},</p>
    <p>We received a request to reset your PlantifyAI password.</p>
    <p style="text-align: center; margin: 24px 0;"><a href="{{.Link}}" style="background-color: #2e7d32; color: #fff; padding: 12px 24px; border-radius: 4px; text-decoration: none;">Reset password</a></p>
    <p>The link can be used once and is valid for <strong>{{.Validity}}</strong>.</p>
    <p>If you did not ask for a reset, you can ignore this email.</p>
    <p>Thank you,<br>PlantifyAI Team</p>
  </div>
</body>
</html>
`))

type mailData struct {
	Name     string
	Code     string
	Link     string
	Validity string
}

// Templates renders the transactional emails of the account flows.
type Templates struct {
	resetURL string
}

// NewTemplates takes the frontend page that accepts ?token=.
func NewTemplates(resetURL string) *Templates {
	return &Templates{resetURL: resetURL}
}

func (t *Templates) OTP(u *domain.User, code string, validity time.Duration) domain.Email {
	d := mailData{Name: u.FirstName, Code: code, Validity: humanize(validity)}
	return render(u.Email, otpSubject, otpText, otpHTML, d)
}

func (t *Templates) Reset(u *domain.User, rawToken string, validity time.Duration) domain.Email {
	d := mailData{Name: u.FirstName, Link: t.ResetLink(rawToken), Validity: humanize(validity)}
	return render(u.Email, resetSubject, resetText, resetHTML, d)
}

// ResetLink embeds the token as a query parameter of the configured page.
func (t *Templates) ResetLink(rawToken string) string {
	u, err := url.Parse(t.resetURL)
	if err != nil {
		return t.resetURL + "?token=" + url.QueryEscape(rawToken)
	}
	q := u.Query()
	q.Set("token", rawToken)
	u.RawQuery = q.Encode()
	return u.String()
}

func render(to, subject string, text *texttemplate.Template, html *htmltemplate.Template, d mailData) domain.Email {
	var plain, rich bytes.Buffer
	// the templates are static and the data is plain strings, so Execute cannot fail
	_ = text.Execute(&plain, d)
	_ = html.Execute(&rich, d)
	return domain.Email{To: to, Subject: subject, PlainBody: plain.String(), HTMLBody: rich.String()}
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return strconv.Itoa(h) + " hours"
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return strconv.Itoa(m) + " minutes"
		}
		return "1 minute"
	default:
		return d.String()
	}
}
