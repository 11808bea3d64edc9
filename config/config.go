// Package config loads the YAML application configuration of pdfsig.
package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sudhir-boottttt/MSpdf-sub001/keys"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/signers"
	"github.com/sudhir-boottttt/MSpdf-sub001/stamp"
)

// ErrConfigurationError matches every ConfigError.
var ErrConfigurationError = errors.New("configuration error")

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate checks the level and format.
func (c *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
	}
	if c.Format != "console" && c.Format != "json" {
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q (console or json)", c.Format))
	}
	return nil
}

// Build returns a logger for the configuration.
func (c *LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{c.Output}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// AppearanceConfig places a visible signature.
type AppearanceConfig struct {
	// Page is 0-based.
	Page int `yaml:"page" json:"page"`
	// Rect is [llx, lly, urx, ury] in points.
	Rect     []float64 `yaml:"rect" json:"rect"`
	Text     string    `yaml:"text" json:"text,omitempty"`
	FontSize float64   `yaml:"font-size" json:"font_size,omitempty"`
}

// Validate checks the rectangle.
func (c *AppearanceConfig) Validate() error {
	if c.Page < 0 {
		return NewConfigError("signing.appearance.page", "must not be negative")
	}
	if len(c.Rect) != 4 {
		return NewConfigError("signing.appearance.rect", "must have four numbers")
	}
	if c.Rect[2] <= c.Rect[0] || c.Rect[3] <= c.Rect[1] {
		return NewConfigError("signing.appearance.rect", "must have positive width and height")
	}
	if c.FontSize < 0 {
		return NewConfigError("signing.appearance.font-size", "must not be negative")
	}
	return nil
}

// SigningConfig holds the defaults for new signatures.
type SigningConfig struct {
	// Digest is the digest algorithm name.
	Digest string `yaml:"digest" json:"digest,omitempty"`
	// PlaceholderSize is the reserved envelope size in bytes; 0 computes it.
	PlaceholderSize int    `yaml:"placeholder-size" json:"placeholder_size,omitempty"`
	FieldName       string `yaml:"field-name" json:"field_name,omitempty"`
	Reason          string `yaml:"reason" json:"reason,omitempty"`
	Location        string `yaml:"location" json:"location,omitempty"`
	ContactInfo     string `yaml:"contact-info" json:"contact_info,omitempty"`
	Name            string `yaml:"name" json:"name,omitempty"`

	// KeyContainer is the path of a PKCS#12 file or PEM bundle.
	KeyContainer string `yaml:"key-container" json:"key_container,omitempty"`
	// PassphraseEnv names the environment variable holding the secret.
	PassphraseEnv string `yaml:"passphrase-env" json:"passphrase_env,omitempty"`

	Appearance *AppearanceConfig `yaml:"appearance" json:"appearance,omitempty"`
}

// SetDefaults sets default values for signing configuration.
func (c *SigningConfig) SetDefaults() {
	if c.Digest == "" {
		c.Digest = signers.DefaultMD
	}
}

// Validate checks the digest and sizes.
func (c *SigningConfig) Validate() error {
	if _, err := digest.Lookup(c.Digest); err != nil {
		return &ConfigError{Field: "signing.digest", Message: err.Error(), Err: err}
	}
	if c.PlaceholderSize < 0 {
		return NewConfigError("signing.placeholder-size", "must not be negative")
	}
	if c.Appearance != nil {
		return c.Appearance.Validate()
	}
	return nil
}

// SignOptions converts the configuration to producer options.
func (c *SigningConfig) SignOptions() signers.SignOptions {
	opts := signers.SignOptions{
		FieldName:       c.FieldName,
		Reason:          c.Reason,
		Location:        c.Location,
		ContactInfo:     c.ContactInfo,
		Name:            c.Name,
		DigestAlgorithm: c.Digest,
		PlaceholderSize: c.PlaceholderSize,
	}
	if a := c.Appearance; a != nil && len(a.Rect) == 4 {
		style := stamp.DefaultStyle()
		if a.FontSize > 0 {
			style.FontSize = a.FontSize
		}
		opts.Appearance = &signers.Appearance{
			Page:  a.Page,
			Rect:  generic.Rectangle{LLX: a.Rect[0], LLY: a.Rect[1], URX: a.Rect[2], URY: a.Rect[3]},
			Text:  a.Text,
			Style: style,
		}
	}
	return opts
}

// Passphrase returns the secret from PassphraseEnv, or nil.
func (c *SigningConfig) Passphrase() []byte {
	if c.PassphraseEnv == "" {
		return nil
	}
	if v, ok := os.LookupEnv(c.PassphraseEnv); ok {
		return []byte(v)
	}
	return nil
}

// ValidationConfig holds the verification settings.
type ValidationConfig struct {
	// Workers bounds parallel signature checks; 0 uses one per CPU.
	Workers int `yaml:"workers" json:"workers,omitempty"`
	// TrustAnchor is the path of the trusted certificate (PEM or DER).
	TrustAnchor string `yaml:"trust-anchor" json:"trust_anchor,omitempty"`
	// Timeout bounds one verification run; 0 means no limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Validate checks the worker count and timeout.
func (c *ValidationConfig) Validate() error {
	if c.Workers < 0 {
		return NewConfigError("validation.workers", "must not be negative")
	}
	if c.Timeout < 0 {
		return NewConfigError("validation.timeout", "must not be negative")
	}
	return nil
}

// LoadTrustAnchor reads the configured anchor. It returns nil when none is set.
func (c *ValidationConfig) LoadTrustAnchor() (*x509.Certificate, error) {
	if c.TrustAnchor == "" {
		return nil, nil
	}
	certs, err := keys.LoadCertsFromPemDer(c.TrustAnchor)
	if err != nil {
		return nil, &ConfigError{Field: "validation.trust-anchor", Message: err.Error(), Err: err}
	}
	return certs[0], nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Logging    *LoggingConfig    `yaml:"logging" json:"logging,omitempty"`
	Signing    *SigningConfig    `yaml:"signing" json:"signing,omitempty"`
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	c := &AppConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults fills missing sections and values.
func (c *AppConfig) SetDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	c.Logging.SetDefaults()
	c.Signing.SetDefaults()
}

// Validate checks every section.
func (c *AppConfig) Validate() error {
	return errors.Join(c.Logging.Validate(), c.Signing.Validate(), c.Validation.Validate())
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data, applies defaults and
// validates the result. Unknown keys are rejected.
func ParseConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: err.Error(), Err: err}
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
