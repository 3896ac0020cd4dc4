// Package notification delivers one-time codes by email or any shoutrrr
// service. Delivery happens in the background and failures are logged,
// never returned to the HTTP request that triggered them.
package notification

// Purpose says why a code was issued.
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

// Message is one rendered code email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string // plain text version of HTML

	// Code is kept separately for providers that do not deliver email.
	Code    string
	Purpose Purpose
}
