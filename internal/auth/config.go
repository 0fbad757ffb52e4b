package auth

import (
	"encoding/json"
	"os"
	"strings"
)

// Config holds the API credentials and environment selection. It is
// immutable once loaded and owned by the Auth instance it is given to.
type Config struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Passkey        string `json:"passkey"`
	Sandbox        bool   `json:"sandbox"`
}

// ConfigFromEnv builds a Config from MPESA_* environment variables.
// Sandbox mode is the default unless MPESA_ENVIRONMENT is "production".
func ConfigFromEnv() (Config, error) {
	key := strings.TrimSpace(os.Getenv("MPESA_CONSUMER_KEY"))
	secret := strings.TrimSpace(os.Getenv("MPESA_CONSUMER_SECRET"))
	if key == "" || secret == "" {
		return Config{}, &Error{
			Code:    CodeConfigError,
			Message: "MPESA_CONSUMER_KEY and MPESA_CONSUMER_SECRET must be set",
		}
	}

	return Config{
		ConsumerKey:    key,
		ConsumerSecret: secret,
		Passkey:        strings.TrimSpace(os.Getenv("MPESA_PASSKEY")),
		Sandbox:        !strings.EqualFold(os.Getenv("MPESA_ENVIRONMENT"), "production"),
	}, nil
}

// ConfigFromFile loads a Config from a JSON file. consumer_key and
// consumer_secret are required, sandbox defaults to true when omitted.
func ConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: CodeConfigError, Message: "reading config file " + path, Err: err}
	}

	var raw struct {
		ConsumerKey    string `json:"consumer_key"`
		ConsumerSecret string `json:"consumer_secret"`
		Passkey        string `json:"passkey"`
		Sandbox        *bool  `json:"sandbox"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Code: CodeParseError, Message: "parsing config file " + path, Err: err}
	}

	if raw.ConsumerKey == "" {
		return Config{}, &Error{Code: CodeConfigError, Message: "missing consumer_key in config file"}
	}
	if raw.ConsumerSecret == "" {
		return Config{}, &Error{Code: CodeConfigError, Message: "missing consumer_secret in config file"}
	}

	sandbox := true
	if raw.Sandbox != nil {
		sandbox = *raw.Sandbox
	}

	return Config{
		ConsumerKey:    raw.ConsumerKey,
		ConsumerSecret: raw.ConsumerSecret,
		Passkey:        raw.Passkey,
		Sandbox:        sandbox,
	}, nil
}
