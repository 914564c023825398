package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/mail"
)

const mailJobType = "mail"

// MailService renders transactional messages and hands them to the
// background queue so request handlers never wait on the mail provider.
type MailService struct {
	queue  mailQueue
	appURL string
	logger *zap.Logger
}

type mailQueue interface {
	Enqueue(job jobs.Job) error
}

// NewMailService constructs the dispatcher.
func NewMailService(queue mailQueue, appURL string, logger *zap.Logger) *MailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailService{queue: queue, appURL: appURL, logger: logger}
}

// SendVerification queues the address confirmation mail.
func (s *MailService) SendVerification(user *models.User, token string) {
	s.dispatch(mail.VerificationEmail(s.appURL, user.Name, user.Email, token))
}

// SendPasswordReset queues the reset link mail.
func (s *MailService) SendPasswordReset(user *models.User, token string) {
	s.dispatch(mail.PasswordResetEmail(s.appURL, user.Name, user.Email, token))
}

// SendTeacherApproved notifies a teacher that an admin approved the account.
func (s *MailService) SendTeacherApproved(user *models.User) {
	s.dispatch(mail.TeacherApprovedEmail(s.appURL, user.Name, user.Email))
}

// Mail failures never fail the request that triggered them.
func (s *MailService) dispatch(msg mail.Message) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: mailJobType, Payload: msg}); err != nil {
		s.logger.Sugar().Warnw("failed to enqueue mail", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

// MailWorker bridges queue jobs to a mail.Sender.
type MailWorker struct {
	sender  mail.Sender
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMailWorker constructs the worker.
func NewMailWorker(sender mail.Sender, metrics *MetricsService, logger *zap.Logger) *MailWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailWorker{sender: sender, metrics: metrics, logger: logger}
}

// Handle delivers a queued message. A failed send is reported to the queue,
// which logs it and drops the job.
func (w *MailWorker) Handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		w.logger.Sugar().Errorw("dropping mail job with unexpected payload", "job_id", job.ID, "type", job.Type)
		return nil
	}
	err := w.sender.Send(ctx, msg)
	w.metrics.RecordMailDelivery(err)
	if err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	w.logger.Sugar().Debugw("mail sent", "job_id", job.ID, "to", msg.To)
	return nil
}

// NewMailQueue builds the mail dispatch queue around worker. Failed sends are
// never retried.
func NewMailQueue(worker *MailWorker, workers int, logger *zap.Logger) *jobs.Queue {
	return jobs.NewQueue(mailJobType, worker.Handle, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: 256,
		MaxRetries: 0,
		JobTimeout: 30 * time.Second,
		Logger:     logger,
	})
}
