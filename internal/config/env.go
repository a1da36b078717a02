package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values. Secrets are expected to
// come from here rather than the config file.
const (
	EnvTwilioSID      = "TWILIO_ACCOUNT_SID"
	EnvTwilioToken    = "TWILIO_AUTH_TOKEN"
	EnvTwilioFrom     = "TWILIO_WHATSAPP_FROM"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvSheetURL       = "SHEET_CSV_URL"
	EnvSheetURLLegacy = "Google_Sheet_Link"
	EnvHTTPToken      = "WAKEBOT_HTTP_TOKEN"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. getenv is os.Getenv when nil.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Dispatch.Twilio.AccountSID, EnvTwilioSID)
	set(&cfg.Dispatch.Twilio.AuthToken, EnvTwilioToken)
	set(&cfg.Dispatch.Twilio.From, EnvTwilioFrom)
	set(&cfg.Dispatch.Telegram.Token, EnvTelegramToken)
	set(&cfg.Source.URL, EnvSheetURL, EnvSheetURLLegacy)
	set(&cfg.HTTP.Token, EnvHTTPToken)
}
