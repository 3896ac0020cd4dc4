package notification

import (
	"bytes"
	"html/template"
	"time"

	"github.com/k3a/html2text"

	"github.com/kinga-app/kinga/internal/errors"
)

const subjectPrefix = "Your Kinga Verification Code: "

var codeTemplate = template.Must(template.New("otp").Parse(`<html>
  <body style="font-family: Arial, sans-serif; padding: 20px;">
    <h2 style="color: #1b5e20;">Kinga Pest Control</h2>
    <p>Hello,</p>
    <p>Use the code below to verify your account or reset your password:</p>
    <h1 style="background-color: #f0f0f0; padding: 10px; display: inline-block; letter-spacing: 5px;">{{.Code}}</h1>
    <p>This code is valid for {{.Minutes}} minutes.</p>
    <p>Thank you,<br>The Kinga Team</p>
  </body>
</html>
`))

// Renderer builds code emails. Both purposes share one template.
type Renderer struct {
	ttl time.Duration
}

// NewRenderer returns a Renderer that states ttl as the code lifetime.
// A non-positive ttl falls back to ten minutes in the text.
func NewRenderer(ttl time.Duration) *Renderer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Renderer{ttl: ttl}
}

// Render returns the message for code sent to email.
func (r *Renderer) Render(email, code string, purpose Purpose) (*Message, error) {
	var buf bytes.Buffer
	err := codeTemplate.Execute(&buf, struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: max(1, int(r.ttl.Round(time.Minute)/time.Minute))})
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryProcessing).
			Context("purpose", string(purpose)).
			Build()
	}

	html := buf.String()
	return &Message{
		To:      email,
		Subject: subjectPrefix + code,
		HTML:    html,
		Text:    html2text.HTML2Text(html),
		Code:    code,
		Purpose: purpose,
	}, nil
}
