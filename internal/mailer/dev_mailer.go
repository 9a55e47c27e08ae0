package mailer

import (
	"time"

	"github.com/fairshare/ration-tds/pkg/logger"
)

// DevMailer logs messages instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) error {
	logger.Info("[DEV MAIL]",
		"to", toEmail,
		"name", toName,
		"subject", subject,
		"text", text,
	)
	return nil
}

func (d *DevMailer) SendVerificationCode(email, code string, expiry time.Duration) error {
	logger.Info("[DEV MAIL] Verification Code",
		"to", email,
		"code", code,
		"expires_in", expiry.String(),
	)
	return nil
}
