// Package mailer renders and sends meeting invitations through AWS SES,
// optionally keeping a copy of every rendered message in S3.
package mailer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/metrics"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

// ErrNoRecipient is returned for an invitation without an address.
var ErrNoRecipient = errors.New("mailer: invitation has no recipient")

// EmailSender is the part of the SES v2 client the mailer uses.
type EmailSender interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// ObjectPutter is the part of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Invitation is one meeting invitation email.
type Invitation struct {
	To            string
	RecipientName string
	ProviderName  string
	UserName      string
	Start         time.Time
	ZoomLink      string
	Password      string
	TransactionID string
}

// Mailer sends invitations. A Mailer without a sender logs and skips.
type Mailer struct {
	sender   EmailSender
	archive  ObjectPutter
	bucket   string
	from     string
	renderer *renderer
}

// Option customizes a Mailer.
type Option func(*Mailer)

// WithSender sets the SES client.
func WithSender(s EmailSender) Option {
	return func(m *Mailer) { m.sender = s }
}

// WithArchive stores each rendered HTML body in bucket.
func WithArchive(p ObjectPutter, bucket string) Option {
	return func(m *Mailer) {
		m.archive = p
		m.bucket = bucket
	}
}

// New builds a mailer from explicit parts.
func New(cfg config.MailConfig, opts ...Option) (*Mailer, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("mailer: time zone %q: %w", cfg.TimeZone, err)
	}
	r, err := newRenderer(loc)
	if err != nil {
		return nil, err
	}
	m := &Mailer{renderer: r, from: fromAddress(cfg)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewFromConfig builds a mailer with AWS clients. Static credentials are
// used when configured, the default chain otherwise. When mail is
// disabled the mailer renders nothing and skips every send.
func NewFromConfig(ctx context.Context, cfg config.MailConfig) (*Mailer, error) {
	if !cfg.Enabled {
		return New(cfg)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: load AWS config: %w", err)
	}

	opts := []Option{WithSender(sesv2.NewFromConfig(awsCfg))}
	if cfg.ArchiveBucket != "" {
		opts = append(opts, WithArchive(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket))
	}
	return New(cfg, opts...)
}

func fromAddress(cfg config.MailConfig) string {
	if cfg.FromName == "" {
		return cfg.FromEmail
	}
	return fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
}

// Enabled reports whether sends reach SES.
func (m *Mailer) Enabled() bool {
	return m.sender != nil
}

// SendZoomMeetingInvitation renders and sends inv.
func (m *Mailer) SendZoomMeetingInvitation(ctx context.Context, inv Invitation) error {
	if strings.TrimSpace(inv.To) == "" {
		metrics.TrackInvitation("failed")
		return ErrNoRecipient
	}
	if m.sender == nil {
		metrics.TrackInvitation("skipped")
		logger.Info("mail disabled, invitation skipped", "email", inv.To, "transaction_id", inv.TransactionID)
		return nil
	}

	msg, err := m.renderer.render(liquid.Bindings{
		"recipientName": inv.RecipientName,
		"providerName":  inv.ProviderName,
		"userName":      inv.UserName,
		"start":         inv.Start,
		"zoomLink":      inv.ZoomLink,
		"password":      inv.Password,
	})
	if err != nil {
		metrics.TrackInvitation("failed")
		return err
	}

	out, err := m.sender.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: []string{inv.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("type"), Value: aws.String("zoom_invitation")},
		},
	})
	if err != nil {
		metrics.TrackInvitation("failed")
		return fmt.Errorf("mailer: send to %s: %w", logger.RedactEmail(inv.To), err)
	}
	metrics.TrackInvitation("sent")
	logger.Info("invitation sent", "email", inv.To, "message_id", aws.ToString(out.MessageId))

	if m.archive != nil && inv.TransactionID != "" {
		if err := m.store(ctx, inv, msg); err != nil {
			logger.Warn("invitation archive failed", "transaction_id", inv.TransactionID, "error", err)
		}
	}
	return nil
}

// ArchiveKey is invitations/<transactionID>/<sha256(recipient)[:16]>.html.
func ArchiveKey(transactionID, recipient string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(recipient))))
	return fmt.Sprintf("invitations/%s/%s.html", transactionID, hex.EncodeToString(sum[:])[:16])
}

func (m *Mailer) store(ctx context.Context, inv Invitation, msg rendered) error {
	_, err := m.archive.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(ArchiveKey(inv.TransactionID, inv.To)),
		Body:        strings.NewReader(msg.HTML),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata: map[string]string{
			"transaction-id": inv.TransactionID,
			"subject":        msg.Subject,
		},
	})
	if err != nil {
		return fmt.Errorf("mailer: archive: %w", err)
	}
	return nil
}
