package services

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/database"
)

// Notifier delivers a message to a user's mailbox
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// Configured reports whether enough is set to actually send mail
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.Username != "" && c.Password != ""
}

// SMTPNotifier sends plain-text mail through an SMTP relay
type SMTPNotifier struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(config SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{config: config, send: smtp.SendMail}
}

func (n *SMTPNotifier) Notify(ctx context.Context, to, subject, body string) error {
	if !n.config.Configured() {
		return errors.New("SMTP not fully configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)

	from := n.config.From
	if from == "" {
		from = n.config.Username
	}

	message := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", from, to, subject, body)

	addr := fmt.Sprintf("%s:%s", n.config.Host, n.config.Port)
	if err := n.send(addr, auth, from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogNotifier only logs messages. It stands in when SMTP is not configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, to, subject, _ string) error {
	n.Logger.WithFields(log.Fields{"to": to, "subject": subject}).Warn("SMTP not configured, email not sent")
	return nil
}

// HelpService records help requests and confirms them by email
type HelpService struct {
	store    *database.Store
	notifier Notifier
	logger   *log.Logger
}

func NewHelpService(store *database.Store, notifier Notifier, logger *log.Logger) *HelpService {
	return &HelpService{store: store, notifier: notifier, logger: logger}
}

// Submit stores the comment and mails the user a copy. A delivery failure is
// returned but the stored request stays.
func (s *HelpService) Submit(ctx context.Context, user *database.User, in HelpInput) (*database.HelpRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := &database.HelpRequest{Owner: user.ID, Comment: in.Comment}
	if err := s.store.CreateHelpRequest(ctx, req); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("You sent the following comment: %q. We will contact you soon!", in.Comment)
	if err := s.notifier.Notify(ctx, user.Email, "Help - TaskPro", body); err != nil {
		s.logger.WithError(err).WithField("user", user.ID).Error("failed to send help confirmation")
		return req, err
	}
	return req, nil
}
