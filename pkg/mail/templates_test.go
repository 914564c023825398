package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestVerificationEmailLink(t *testing.T) {
	msg := VerificationEmail("http://app.local/", "Ana", "ana+1@school.id", "abc123")
	assert.Equal(t, "ana+1@school.id", msg.To)
	assert.Contains(t, msg.Text, "http://app.local/verify?email=ana%2B1%40school.id&token=abc123")
	assert.Contains(t, msg.HTML, "Verify email")
}

func TestPasswordResetEmailLink(t *testing.T) {
	msg := PasswordResetEmail("http://app.local", "Ana", "ana@school.id", "tok")
	assert.Contains(t, msg.Text, "/reset-password?email=ana%40school.id&token=tok")
	assert.Contains(t, msg.Text, "1 hour")
}

func TestHTMLIsEscaped(t *testing.T) {
	msg := TeacherApprovedEmail("http://app.local", "<b>Ana</b>", "ana@school.id")
	assert.NotContains(t, msg.HTML, "<b>Ana</b>")
	assert.Contains(t, msg.HTML, "&lt;b&gt;Ana&lt;/b&gt;")
}

func TestLogSenderNeverFails(t *testing.T) {
	assert.NoError(t, NewLogSender(zap.NewNop()).Send(context.Background(), Message{To: "a@b.c"}))
	assert.NoError(t, NewLogSender(nil).Send(context.Background(), Message{}))
}
