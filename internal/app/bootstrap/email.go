package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/carebook/internal/config"
	"github.com/wolfman30/carebook/internal/notify"
	"github.com/wolfman30/carebook/pkg/logging"
)

// BuildEmailSender picks the notification transport from EMAIL_PROVIDER:
// "sendgrid", "ses", "stub", or "auto" (SendGrid when keyed, then SES when a
// client is supplied, else stub).
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	sendgrid := func() notify.EmailSender {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}
	sesSender := func() notify.EmailSender {
		if s := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}

	var sender notify.EmailSender
	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case "sendgrid":
		sender = sendgrid()
	case "ses":
		sender = sesSender()
	case "stub":
	default:
		if sender = sendgrid(); sender == nil {
			sender = sesSender()
		}
	}
	if sender == nil {
		logger.Info("email delivery disabled; notifications are logged only", "provider", cfg.EmailProvider)
		return notify.NewStubEmailSender(logger)
	}
	return sender
}
