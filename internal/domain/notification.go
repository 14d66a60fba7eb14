package domain

// Email is an outbound message handed to a Notifier.
type Email struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	PlainBody string `json:"plain_body"`
	HTMLBody  string `json:"html_body,omitempty"`
}
