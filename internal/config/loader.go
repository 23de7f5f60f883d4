package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration with precedence defaults < config file < INBOX_* env.
type Loader struct {
	v          *viper.Viper
	configFile string
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the config file that was loaded, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v
	v.SetConfigName("inbox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/inbox-service")

	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults(cfg) {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
}

func defaults(cfg *Config) map[string]any {
	return map[string]any{
		"environment":              cfg.Environment,
		"http.port":                cfg.HTTP.Port,
		"http.debug":               cfg.HTTP.Debug,
		"grpc.port":                cfg.GRPC.Port,
		"database.dsn":             cfg.Database.DSN,
		"database.auto_migrate":    cfg.Database.AutoMigrate,
		"amqp.url":                 cfg.AMQP.URL,
		"amqp.exchange":            cfg.AMQP.Exchange,
		"amqp.audit_routing_key":   cfg.AMQP.AuditRoutingKey,
		"tracing.endpoint":         cfg.Tracing.Endpoint,
		"tracing.service_name":     cfg.Tracing.ServiceName,
		"tracing.insecure":         cfg.Tracing.Insecure,
		"presence.grpc_addr":       cfg.Presence.GRPCAddr,
		"presence.online_window":   cfg.Presence.OnlineWindow,
		"presence.away_window":     cfg.Presence.AwayWindow,
		"typing.inactivity_window": cfg.Typing.InactivityWindow,
		"typing.decay_window":      cfg.Typing.DecayWindow,
		"logging.level":            cfg.Logging.Level,
		"logging.format":           cfg.Logging.Format,
	}
}

// loadConfigFile reads the config file. A missing file is only an error when one was
// set explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads configuration from path, or the default search paths when path is empty.
func Load(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}
