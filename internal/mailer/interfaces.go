package mailer

import "time"

type Service interface {
	Send(toEmail, toName, subject, text, html string) error
	// SendVerificationCode delivers a one-time login code. Failure here never
	// invalidates the stored code.
	SendVerificationCode(email, code string, expiry time.Duration) error
}
