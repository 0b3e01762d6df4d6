package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "VISIONSTRUCT"

// Configuration keys.
const (
	KeyAPIKey                = "api_key"
	KeyHost                  = "host"
	KeyPort                  = "port"
	KeyModel                 = "model"
	KeyBackendTimeout        = "backend_timeout"
	KeyMaxImageDimension     = "max_image_dimension"
	KeyMaxImagePixels        = "max_image_pixels"
	KeyMaxBodyBytes          = "max_body_bytes"
	KeyQueueDepth            = "queue_depth"
	KeyHeartbeatInterval     = "heartbeat_interval"
	KeyCORSOrigins           = "cors_origins"
	KeyLogLevel              = "log_level"
	KeyLogFormat             = "log_format"
	KeySystemInstructionFile = "system_instruction_file"
	KeyOTLPEndpoint          = "otel_endpoint"
	KeyShutdownTimeout       = "shutdown_timeout"
)

// Flags that select where configuration comes from rather than holding a
// value themselves.
const (
	FlagConfig  = "config"
	FlagEnvFile = "env-file"
)

// DefaultConfigName is looked up in the working directory when --config is
// not given.
const DefaultConfigName = "visionstruct"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved server configuration.
type Config struct {
	APIKey                string
	Host                  string
	Port                  int
	Model                 string
	BackendTimeout        time.Duration
	MaxImageDimension     int
	MaxImagePixels        int
	MaxBodyBytes          int64
	QueueDepth            int
	HeartbeatInterval     time.Duration
	CORSOrigins           []string
	LogLevel              string
	LogFormat             string
	SystemInstructionFile string
	OTLPEndpoint          string
	ShutdownTimeout       time.Duration

	// ConfigFile is the file values were read from, if any.
	ConfigFile string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) String() string {
	key := "unset"
	if c.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf(
		"[CONFIG: Addr: %s | Model: %s | APIKey: %s | BackendTimeout: %s | QueueDepth: %d | LogLevel: %s]",
		c.Addr(), c.Model, key, c.BackendTimeout, c.QueueDepth, c.LogLevel,
	)
}

type option struct {
	key   string
	flag  string
	value any
	usage string
}

var options = []option{
	{KeyAPIKey, "api-key", "", "Gemini API key (also API_KEY or GEMINI_API_KEY)"},
	{KeyHost, "host", "", "interface to listen on"},
	{KeyPort, "port", 3000, "port to listen on (also PORT)"},
	{KeyModel, "model", "gemini-3-pro-preview", "Gemini model identifier"},
	{KeyBackendTimeout, "backend-timeout", 2 * time.Minute, "upper bound for one analysis call"},
	{KeyMaxImageDimension, "max-image-dimension", 0, "downscale images larger than this many pixels on a side (0 disables)"},
	{KeyMaxImagePixels, "max-image-pixels", 40_000_000, "largest declared width*height decoded locally; bigger images are forwarded untouched"},
	{KeyMaxBodyBytes, "max-body-bytes", int64(32 << 20), "largest accepted POST /messages body"},
	{KeyQueueDepth, "queue-depth", 8, "requests a session may have waiting"},
	{KeyHeartbeatInterval, "heartbeat-interval", 15 * time.Second, "interval between SSE keep-alive comments"},
	{KeyCORSOrigins, "cors-origins", []string{"*"}, "allowed CORS origins"},
	{KeyLogLevel, "log-level", "info", "log level (debug, info, warn, error)"},
	{KeyLogFormat, "log-format", "json", "log format (json, console)"},
	{KeySystemInstructionFile, "system-instruction-file", "", "replace the built-in system instruction with this file"},
	{KeyOTLPEndpoint, "otel-endpoint", "", "OTLP/HTTP traces endpoint URL"},
	{KeyShutdownTimeout, "shutdown-timeout", 30 * time.Second, "grace period for in-flight requests on shutdown"},
}

// RegisterFlags adds every configuration flag to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "config file (default ./"+DefaultConfigName+".yaml if present)")
	flags.String(FlagEnvFile, ".env", "dotenv file loaded before reading the environment")

	for _, o := range options {
		switch v := o.value.(type) {
		case string:
			flags.String(o.flag, v, o.usage)
		case int:
			flags.Int(o.flag, v, o.usage)
		case int64:
			flags.Int64(o.flag, v, o.usage)
		case time.Duration:
			flags.Duration(o.flag, v, o.usage)
		case []string:
			flags.StringSlice(o.flag, v, o.usage)
		}
	}
}

// Load resolves configuration with precedence flags > environment > config
// file > defaults. flags must have been passed to RegisterFlags; nil uses
// only the environment, files and defaults.
//
// A missing API key is not an error here; analysis calls report it instead.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if flags == nil {
		flags = pflag.NewFlagSet("config", pflag.ContinueOnError)
		RegisterFlags(flags)
	}

	envFile, _ := flags.GetString(FlagEnvFile)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Plain names kept for existing deployments.
	if err := v.BindEnv(KeyAPIKey, EnvPrefix+"_API_KEY", "API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv(KeyPort, EnvPrefix+"_PORT", "PORT"); err != nil {
		return nil, err
	}

	for _, o := range options {
		v.SetDefault(o.key, o.value)
		if f := flags.Lookup(o.flag); f != nil {
			if err := v.BindPFlag(o.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", o.flag, err)
			}
		}
	}

	configFile, _ := flags.GetString(FlagConfig)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return &Config{
		APIKey:                strings.TrimSpace(v.GetString(KeyAPIKey)),
		Host:                  v.GetString(KeyHost),
		Port:                  v.GetInt(KeyPort),
		Model:                 v.GetString(KeyModel),
		BackendTimeout:        v.GetDuration(KeyBackendTimeout),
		MaxImageDimension:     v.GetInt(KeyMaxImageDimension),
		MaxImagePixels:        v.GetInt(KeyMaxImagePixels),
		MaxBodyBytes:          v.GetInt64(KeyMaxBodyBytes),
		QueueDepth:            v.GetInt(KeyQueueDepth),
		HeartbeatInterval:     v.GetDuration(KeyHeartbeatInterval),
		CORSOrigins:           splitList(v.GetStringSlice(KeyCORSOrigins)),
		LogLevel:              strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:             strings.ToLower(v.GetString(KeyLogFormat)),
		SystemInstructionFile: v.GetString(KeySystemInstructionFile),
		OTLPEndpoint:          v.GetString(KeyOTLPEndpoint),
		ShutdownTimeout:       v.GetDuration(KeyShutdownTimeout),
		ConfigFile:            v.ConfigFileUsed(),
	}, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Port > 0 && c.Port <= 65535, "port %d out of range", c.Port)
	check(c.Model != "", "model must not be empty")
	check(c.BackendTimeout >= 0, "backend_timeout must not be negative")
	check(c.MaxImageDimension >= 0, "max_image_dimension must not be negative")
	check(c.MaxImagePixels > 0, "max_image_pixels must be positive")
	check(c.MaxBodyBytes > 0, "max_body_bytes must be positive")
	check(c.QueueDepth > 0, "queue_depth must be positive")
	check(c.HeartbeatInterval > 0, "heartbeat_interval must be positive")
	check(c.ShutdownTimeout > 0, "shutdown_timeout must be positive")
	check(len(c.CORSOrigins) > 0, "cors_origins must not be empty")

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		check(false, "unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		check(false, "unknown log_format %q", c.LogFormat)
	}

	return errors.Join(errs...)
}

// splitList accepts both list values and comma separated strings, as the
// environment can only carry the latter.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
