package mail

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// Link builds an application URL with escaped query parameters.
func Link(appURL, path string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return strings.TrimRight(appURL, "/") + path + "?" + q.Encode()
}

// VerificationEmail asks a new user to confirm their address.
func VerificationEmail(appURL, name, email, token string) Message {
	link := Link(appURL, "/verify", map[string]string{"email": email, "token": token})
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Verify your email",
		Text:    fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below. It expires in 24 hours.\n\n%s\n", name, link),
		HTML:    button(name, "Confirm your email address. The link expires in 24 hours.", link, "Verify email"),
	}
}

// PasswordResetEmail carries a one-hour password reset link.
func PasswordResetEmail(appURL, name, email, token string) Message {
	link := Link(appURL, "/reset-password", map[string]string{"email": email, "token": token})
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Hi %s,\n\nReset your password with the link below. It expires in 1 hour. If you did not ask for this you can ignore this email.\n\n%s\n", name, link),
		HTML:    button(name, "Reset your password. The link expires in 1 hour. If you did not ask for this you can ignore this email.", link, "Reset password"),
	}
}

// TeacherApprovedEmail tells a teacher their account can now sign in.
func TeacherApprovedEmail(appURL, name, email string) Message {
	link := strings.TrimRight(appURL, "/") + "/login"
	return Message{
		To:      email,
		ToName:  name,
		Subject: "Your teacher account was approved",
		Text:    fmt.Sprintf("Hi %s,\n\nAn administrator approved your teacher account. You can sign in at %s\n", name, link),
		HTML:    button(name, "An administrator approved your teacher account.", link, "Sign in"),
	}
}

func button(name, body, link, label string) string {
	return fmt.Sprintf(`<p>Hi %s,</p><p>%s</p><p><a href="%s" style="padding:10px 16px;background:#2563eb;color:#fff;border-radius:6px;text-decoration:none">%s</a></p><p style="color:#6b7280;font-size:12px">%s</p>`,
		html.EscapeString(name), html.EscapeString(body), html.EscapeString(link), html.EscapeString(label), html.EscapeString(link))
}
