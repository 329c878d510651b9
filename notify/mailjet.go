package notify

import (
	"context"
	"fmt"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// MailjetSender delivers notifications as transactional email through
// the Mailjet v3.1 API.
type MailjetSender struct {
	client    *mailjet.Client
	fromEmail string
	fromName  string
}

func NewMailjetSender(apiKey, secretKey, fromEmail, fromName string) *MailjetSender {
	return &MailjetSender{
		client:    mailjet.NewMailjetClient(apiKey, secretKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

var subjects = map[Kind]string{
	KindBookingConfirmed: "Your appointment is confirmed",
	KindBookingCancelled: "Your appointment was cancelled",
	KindPaymentSucceeded: "Payment received",
	KindPaymentFailed:    "Payment failed",
	KindRefundApproved:   "Refund request approved",
	KindRefundRejected:   "Refund request rejected",
	KindRefundExecuted:   "Refund completed",
}

func (s *MailjetSender) Send(_ context.Context, kind Kind, to Recipient, data map[string]string) error {
	subject, ok := subjects[kind]
	if !ok {
		subject = string(kind)
	}

	body := fmt.Sprintf("Hello %s,\n\n", to.Name)
	for k, v := range data {
		body += fmt.Sprintf("%s: %s\n", k, v)
	}

	messages := mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: s.fromEmail, Name: s.fromName},
		To:       &mailjet.RecipientsV31{{Email: to.Email, Name: to.Name}},
		Subject:  subject,
		TextPart: body,
	}}}

	if _, err := s.client.SendMailV31(&messages); err != nil {
		return fmt.Errorf("mailjet send: %w", err)
	}
	return nil
}
