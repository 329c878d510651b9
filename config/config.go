/*
Package config loads engine configuration from the environment.

Everything has a development-friendly default except the external
credentials; a missing Omise or Mailjet key pair degrades to the
logging fallbacks rather than failing startup, so the engine runs out
of the box against an in-memory provider-free setup.
*/
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// Network
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"booking.db"`

	// Lifecycle tuning
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	GracePeriod   time.Duration `envconfig:"GRACE_PERIOD" default:"15m"`
	RefundCutoff  time.Duration `envconfig:"REFUND_CUTOFF" default:"24h"`
	Currency      string        `envconfig:"CURRENCY" default:"EUR"`

	// Omise
	OmisePublicKey string `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey string `envconfig:"OMISE_SECRET_KEY"`

	// Webhook signing
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// Mailjet
	MailjetAPIKey    string `envconfig:"MAILJET_API_KEY"`
	MailjetSecretKey string `envconfig:"MAILJET_SECRET_KEY"`
	MailFromEmail    string `envconfig:"MAIL_FROM_EMAIL" default:"no-reply@example.com"`
	MailFromName     string `envconfig:"MAIL_FROM_NAME" default:"Booking Engine"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
