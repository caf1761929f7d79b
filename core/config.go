package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	// Config holds all runtime settings for the messaging core and its
	// supporting services. It is loaded once at startup via NewConfig.
	Config struct {
		Env      string
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		SecretKey string

		API struct {
			BaseURL   string
			SocketURL string
			Timeout   time.Duration
		}

		Messaging struct {
			// AssumeConnectedAfter is how long to wait for a connect event
			// before optimistically reporting the session as connected.
			AssumeConnectedAfter time.Duration
			// HealthProbeAfter is the delay between an unexpected disconnect
			// and the REST health probe that may restore the optimistic state.
			HealthProbeAfter time.Duration
			// AuthFailsafe forces the route guard out of its checking state.
			AuthFailsafe time.Duration
			TypingExpiry time.Duration
			// PendingSendExpiry fails optimistic messages that were never
			// reconciled with a server outcome.
			PendingSendExpiry time.Duration
		}

		CachePath        string
		SessionPath      string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail string
	}
)

// FromEmail returns the default sender address for outgoing notifications.
func (c *Config) FromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
}

// NewConfig loads settings from defaults, an optional env-specific .env file
// and ENV-prefixed environment variables (DEV is assumed when ENV is unset).
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Shule")
	v.SetDefault("secretKey", "x2m#7cq!p0e&z9w)shule$messaging%core(dev*key")
	v.SetDefault("apiBaseUrl", "http://localhost:8000/v1")
	v.SetDefault("apiSocketUrl", "ws://localhost:8000/v1/ws")
	v.SetDefault("apiTimeout", 10*time.Second)
	v.SetDefault("assumeConnectedAfter", 8*time.Second)
	v.SetDefault("healthProbeAfter", 3*time.Second)
	v.SetDefault("authFailsafe", time.Second)
	v.SetDefault("typingExpiry", 3*time.Second)
	v.SetDefault("pendingSendExpiry", 30*time.Second)
	v.SetDefault("cachePath", filepath.Join(".", "shule-cache.db"))
	v.SetDefault("sessionPath", filepath.Join(".", "shule-session.json"))
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		SecretKey:        v.GetString("secretKey"),
		CachePath:        v.GetString("cachePath"),
		SessionPath:      v.GetString("sessionPath"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
	}
	conf.API.BaseURL = v.GetString("apiBaseUrl")
	conf.API.SocketURL = v.GetString("apiSocketUrl")
	conf.API.Timeout = v.GetDuration("apiTimeout")
	conf.Messaging.AssumeConnectedAfter = v.GetDuration("assumeConnectedAfter")
	conf.Messaging.HealthProbeAfter = v.GetDuration("healthProbeAfter")
	conf.Messaging.AuthFailsafe = v.GetDuration("authFailsafe")
	conf.Messaging.TypingExpiry = v.GetDuration("typingExpiry")
	conf.Messaging.PendingSendExpiry = v.GetDuration("pendingSendExpiry")
	return conf
}
