package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sharedrive/metrics"
	"sharedrive/models"

	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultMailgunBaseURL = "https://api.mailgun.net/v3"

type NotificationConfig struct {
	MailgunAPIKey string
	MailgunDomain string
	// BaseURL overrides the Mailgun API root, e.g. for the EU region.
	BaseURL      string
	FromEmail    string
	MaxRetries   uint64
	RetryBackoff time.Duration
}

// NotificationService emails users when a folder is shared with them.
// Transient Mailgun failures are retried a bounded number of times; every
// attempt is written to the notification log.
type NotificationService struct {
	store      Store
	cfg        NotificationConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type MailgunMessage struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

func (m MailgunMessage) form() url.Values {
	return url.Values{
		"from":    {m.From},
		"to":      {m.To},
		"subject": {m.Subject},
		"text":    {m.Text},
		"html":    {m.HTML},
	}
}

func NewNotificationService(store Store, cfg NotificationConfig, logger *slog.Logger, m *metrics.Metrics) *NotificationService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMailgunBaseURL
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &NotificationService{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		metrics:    m,
	}
}

func (s *NotificationService) Enabled() bool {
	return s.cfg.MailgunAPIKey != "" && s.cfg.MailgunDomain != ""
}

func (s *NotificationService) NotifyFolderShared(ctx context.Context, granteeID, granterID primitive.ObjectID, folder *models.Folder) error {
	if !s.Enabled() {
		s.metrics.Notification("skipped")
		s.logger.Debug("mailgun not configured, skipping notification", "grantee", granteeID.Hex())
		return nil
	}

	grantee, err := s.store.GetUser(ctx, granteeID)
	if err != nil {
		return fmt.Errorf("shared with user not found: %w", err)
	}
	granter, err := s.store.GetUser(ctx, granterID)
	if err != nil {
		return fmt.Errorf("shared by user not found: %w", err)
	}

	subject := fmt.Sprintf("Folder shared with you: %s", folder.Name)
	text := fmt.Sprintf("Hi %s,\n\n%s has shared a folder with you: %s\n\nYou can access it in your ShareDrive account.\n\nBest regards,\nShareDrive Team",
		displayName(grantee), displayName(granter), folder.Name)
	html := fmt.Sprintf(`
		<h2>Folder Shared With You</h2>
		<p>Hi %s,</p>
		<p><strong>%s</strong> has shared a folder with you: <strong>%s</strong></p>
		<p>You can access it in your ShareDrive account.</p>
		<p>Best regards,<br>ShareDrive Team</p>
	`, displayName(grantee), displayName(granter), folder.Name)

	msg := MailgunMessage{From: s.cfg.FromEmail, To: grantee.Email, Subject: subject, Text: text, HTML: html}

	attempt := 0
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewConstant(s.cfg.RetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		sendErr := s.sendEmail(ctx, msg)
		s.logAttempt(ctx, grantee.ID, folder, subject, text, attempt, sendErr)
		return sendErr
	})
	if err != nil {
		s.metrics.Notification("failed")
		return fmt.Errorf("failed to send email after %d attempts: %w", attempt, err)
	}
	s.metrics.Notification("sent")
	s.logger.Info("share notification sent", "grantee", grantee.ID.Hex(), "folder_id", folder.ID.Hex(), "attempts", attempt)
	return nil
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func (s *NotificationService) logAttempt(ctx context.Context, userID primitive.ObjectID, folder *models.Folder, title, message string, attempt int, sendErr error) {
	entry := &models.NotificationLog{
		UserID:    userID,
		Type:      "folder_shared",
		Title:     title,
		Message:   message,
		ItemID:    folder.ID,
		ItemType:  "folder",
		Delivered: sendErr == nil,
		Attempts:  attempt,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr != nil {
		entry.LastError = sendErr.Error()
	}
	if err := s.store.LogNotification(ctx, entry); err != nil {
		s.logger.Warn("failed to log notification", "user_id", userID.Hex(), "error", err)
	}
}

// sendEmail posts one message. Network errors and gateway statuses are
// marked retryable; any other failure is final.
func (s *NotificationService) sendEmail(ctx context.Context, msg MailgunMessage) error {
	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.MailgunDomain)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.form().Encode()))
	if err != nil {
		return fmt.Errorf("failed to create mailgun request: %w", err)
	}
	req.SetBasicAuth("api", s.cfg.MailgunAPIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return retry.RetryableError(fmt.Errorf("failed to send mailgun request: %w", err))
		}
		return fmt.Errorf("failed to send mailgun request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return retry.RetryableError(fmt.Errorf("mailgun responded with status: %s", resp.Status))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mailgun responded with status: %s", resp.Status)
	}
	return nil
}
