// Package config loads settings for the msgline programs from a TOML or
// YAML file, an optional .env file and MSGLINE_* environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/session"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MSGLINE_"

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the file layout shared by echo-client and echo-server
type Config struct {
	Client      ClientConfig  `toml:"client" yaml:"client"`
	Server      ServerConfig  `toml:"server" yaml:"server"`
	Session     SessionConfig `toml:"session" yaml:"session"`
	Bridge      BridgeConfig  `toml:"bridge" yaml:"bridge"`
	Log         LogConfig     `toml:"log" yaml:"log"`
	MetricsAddr string        `toml:"metrics_addr" yaml:"metrics_addr"`
}

// ClientConfig describes the local identity and what to negotiate
type ClientConfig struct {
	ID               string   `toml:"id" yaml:"id"`
	SubID            string   `toml:"sub_id" yaml:"sub_id"`
	ServerAddr       string   `toml:"server_addr" yaml:"server_addr"`
	ServerID         string   `toml:"server_id" yaml:"server_id"`
	Negotiate        bool     `toml:"negotiate" yaml:"negotiate"`
	ConnectionKey    string   `toml:"connection_key" yaml:"connection_key"`
	AutoEcho         bool     `toml:"auto_echo" yaml:"auto_echo"`
	AutoEchoInterval uint16   `toml:"auto_echo_interval" yaml:"auto_echo_interval"`
	BridgeMode       bool     `toml:"bridge_mode" yaml:"bridge_mode"`
	SnippingTargets  []string `toml:"snipping_targets" yaml:"snipping_targets"`
	WaitAck          bool     `toml:"wait_ack" yaml:"wait_ack"`
	StartAttempts    int      `toml:"start_attempts" yaml:"start_attempts"`
}

// ServerConfig configures the echo server
type ServerConfig struct {
	Listen    string `toml:"listen" yaml:"listen"`
	ID        string `toml:"id" yaml:"id"`
	SubID     string `toml:"sub_id" yaml:"sub_id"`
	Ack       bool   `toml:"ack" yaml:"ack"`
	ReplyType string `toml:"reply_type" yaml:"reply_type"`
}

// SessionConfig holds transport timeouts and limits
type SessionConfig struct {
	ConnectTimeout   time.Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	EchoInterval     time.Duration `toml:"echo_interval" yaml:"echo_interval"`
	MaxFrameBytes    int           `toml:"max_frame_bytes" yaml:"max_frame_bytes"`
	// CompressMode deflates data sections; both peers must enable it.
	CompressMode      bool `toml:"compress_mode" yaml:"compress_mode"`
	CompressBlockSize int  `toml:"compress_block_size" yaml:"compress_block_size"`
}

// BridgeConfig enables the AMQP relay when URL is set
type BridgeConfig struct {
	URL      string   `toml:"url" yaml:"url"`
	Exchange string   `toml:"exchange" yaml:"exchange"`
	Queue    string   `toml:"queue" yaml:"queue"`
	Bindings []string `toml:"bindings" yaml:"bindings"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the built-in settings
func Default() *Config {
	sc := session.DefaultConfig()
	return &Config{
		Client: ClientConfig{
			ID:               "echo_client",
			ServerAddr:       "127.0.0.1:7000",
			ServerID:         sc.ServerID,
			AutoEchoInterval: 1,
			StartAttempts:    3,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7000",
			ID:     "echo_server",
		},
		Session: SessionConfig{
			ConnectTimeout:    sc.ConnectTimeout,
			HandshakeTimeout:  sc.HandshakeTimeout,
			WriteTimeout:      sc.WriteTimeout,
			MaxFrameBytes:     container.DefaultMaxFrameBytes,
			CompressBlockSize: container.DefaultCompressBlockSize,
		},
		Bridge: BridgeConfig{
			Exchange: "msgline",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty), the env files (".env" when none are given; missing files are
// ignored) and MSGLINE_* variables, then validates it.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, ext)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"CLIENT_ID":      &c.Client.ID,
		"CLIENT_SUB_ID":  &c.Client.SubID,
		"SERVER_ADDR":    &c.Client.ServerAddr,
		"SERVER_ID":      &c.Client.ServerID,
		"CONNECTION_KEY": &c.Client.ConnectionKey,
		"LISTEN":         &c.Server.Listen,
		"REPLY_TYPE":     &c.Server.ReplyType,
		"AMQP_URL":       &c.Bridge.URL,
		"AMQP_EXCHANGE":  &c.Bridge.Exchange,
		"AMQP_QUEUE":     &c.Bridge.Queue,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
		"METRICS_ADDR":   &c.MetricsAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"NEGOTIATE":     &c.Client.Negotiate,
		"AUTO_ECHO":     &c.Client.AutoEcho,
		"BRIDGE_MODE":   &c.Client.BridgeMode,
		"WAIT_ACK":      &c.Client.WaitAck,
		"SERVER_ACK":    &c.Server.Ack,
		"COMPRESS_MODE": &c.Session.CompressMode,
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"CONNECT_TIMEOUT":   &c.Session.ConnectTimeout,
		"HANDSHAKE_TIMEOUT": &c.Session.HandshakeTimeout,
		"WRITE_TIMEOUT":     &c.Session.WriteTimeout,
		"ECHO_INTERVAL":     &c.Session.EchoInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "SNIPPING_TARGETS"); ok {
		c.Client.SnippingTargets = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "AUTO_ECHO_INTERVAL"); ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: %sAUTO_ECHO_INTERVAL: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Client.AutoEchoInterval = uint16(n)
	}
	if v, ok := lookup(EnvPrefix + "COMPRESS_BLOCK_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sCOMPRESS_BLOCK_SIZE: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Session.CompressBlockSize = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks addresses, timeouts and enumerations
func (c *Config) Validate() error {
	var errs []error
	if c.Client.ServerAddr != "" {
		if _, err := session.ParseAddress(c.Client.ServerAddr); err != nil {
			errs = append(errs, fmt.Errorf("%w: client.server_addr: %v", ErrInvalidConfig, err))
		}
	}
	if c.Server.Listen != "" {
		if _, err := session.ParseAddress(c.Server.Listen); err != nil {
			errs = append(errs, fmt.Errorf("%w: server.listen: %v", ErrInvalidConfig, err))
		}
	}
	if c.Session.ConnectTimeout < 0 || c.Session.HandshakeTimeout < 0 ||
		c.Session.WriteTimeout < 0 || c.Session.EchoInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: session timeouts must not be negative", ErrInvalidConfig))
	}
	if c.Session.MaxFrameBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: session.max_frame_bytes must not be negative", ErrInvalidConfig))
	}
	if c.Session.CompressBlockSize < 0 {
		errs = append(errs, fmt.Errorf("%w: session.compress_block_size must not be negative", ErrInvalidConfig))
	}
	if c.Client.StartAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: client.start_attempts must be at least 1", ErrInvalidConfig))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalidConfig, c.Log.Format))
	}
	if c.Bridge.URL != "" && c.Bridge.Exchange == "" {
		errs = append(errs, fmt.Errorf("%w: bridge.exchange is required with bridge.url", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// SessionConfig converts the file settings into a session.Config. Params
// and Ack are set only when negotiation is enabled.
func (c *Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.ConnectTimeout = c.Session.ConnectTimeout
	sc.HandshakeTimeout = c.Session.HandshakeTimeout
	sc.WriteTimeout = c.Session.WriteTimeout
	sc.EchoInterval = c.Session.EchoInterval
	if c.Client.ServerID != "" {
		sc.ServerID = c.Client.ServerID
	}
	if c.Session.MaxFrameBytes > 0 {
		sc.Limits = container.Limits{MaxFrameBytes: c.Session.MaxFrameBytes}
	}
	sc.Compression = c.Compression()
	if c.Client.Negotiate {
		sc.Params = c.ConnectionParams()
		if c.Client.WaitAck {
			ack := session.DefaultHandshakeAck()
			sc.Ack = &ack
		}
	}
	return sc
}

// Compression returns the data section compression settings, nil when
// compress_mode is off.
func (c *Config) Compression() *container.Compression {
	if !c.Session.CompressMode {
		return nil
	}
	cc := container.DefaultCompression()
	if c.Session.CompressBlockSize > 0 {
		cc.BlockSize = c.Session.CompressBlockSize
	}
	return &cc
}

// ConnectionParams returns the negotiation params described by the file
func (c *Config) ConnectionParams() *session.ConnectionParams {
	p := session.DefaultConnectionParams(c.Client.ConnectionKey)
	p.AutoEcho = c.Client.AutoEcho
	p.AutoEchoInterval = c.Client.AutoEchoInterval
	p.BridgeMode = c.Client.BridgeMode
	p.SnippingTargets = append([]string(nil), c.Client.SnippingTargets...)
	return &p
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// NewLogger builds the slog logger described by the log section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
