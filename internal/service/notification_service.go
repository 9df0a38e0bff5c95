package service

import (
	"context"
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/model"
	"coursegen_backend/pkg/logger"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Notifier 报名进入 completed 后调用，失败只记录日志
type Notifier interface {
	CourseCompleted(ctx context.Context, user *model.User, course *model.Course) error
}

type NoopNotifier struct{}

func (NoopNotifier) CourseCompleted(ctx context.Context, user *model.User, course *model.Course) error {
	return nil
}

type SendgridNotifier struct {
	Client *sendgrid.Client
	From   *mail.Email
}

// NewNotifier 未配置 SendGrid 时返回 NoopNotifier
func NewNotifier(cfg config.MailConfig) Notifier {
	if cfg.SendgridAPIKey == "" || cfg.FromEmail == "" {
		logger.Log.Info("SendGrid not configured, completion emails disabled")
		return NoopNotifier{}
	}
	name := cfg.FromName
	if name == "" {
		name = "Course Generator"
	}
	return &SendgridNotifier{
		Client: sendgrid.NewSendClient(cfg.SendgridAPIKey),
		From:   mail.NewEmail(name, cfg.FromEmail),
	}
}

func (n *SendgridNotifier) CourseCompleted(ctx context.Context, user *model.User, course *model.Course) error {
	to := mail.NewEmail(user.Username, user.Email)
	subject := fmt.Sprintf("You completed \"%s\"", course.Title)
	plain := fmt.Sprintf("Congratulations %s! You have completed the course \"%s\".", user.Username, course.Title)
	htmlBody := fmt.Sprintf("<p>Congratulations <strong>%s</strong>!</p><p>You have completed the course <em>%s</em>.</p>",
		html.EscapeString(user.Username), html.EscapeString(course.Title))

	msg := mail.NewSingleEmail(n.From, subject, to, plain, htmlBody)
	resp, err := n.Client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, resp.Body)
	}
	logger.Log.Info("Completion email sent", zap.Uint("user_id", user.ID), zap.Uint("course_id", course.ID))
	return nil
}
