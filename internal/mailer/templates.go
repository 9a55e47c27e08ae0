package mailer

import (
	"fmt"
	"time"
)

const codeSubject = "Your Ration TDS Verification Code"

func codeBodyHTML(code string, expiry time.Duration) string {
	minutes := int(expiry.Minutes())
	return fmt.Sprintf(`
		<div style="font-family: Arial; padding: 20px;">
			<h2 style="color: #FF6600;">राशन वितरण प्रणाली</h2>
			<p>Your verification code:</p>
			<div style="padding: 16px; background: #eee; text-align:center; font-size:32px;">
				%s
			</div>
			<p>This code expires in %d minutes.</p>
		</div>`, code, minutes)
}

func codeBodyText(code string, expiry time.Duration) string {
	return fmt.Sprintf("Your Ration TDS verification code is: %s\n\nThis code expires in %d minutes.", code, int(expiry.Minutes()))
}
