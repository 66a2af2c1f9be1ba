package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
)

// Client transports.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Client state backends for the disk tier.
const (
	StateFile  = "file"
	StateRedis = "redis"
)

// Client is the CLI configuration.
type Client struct {
	Server     string `json:"server"`
	Transport  string `json:"transport"`
	CAFile     string `json:"caFile,omitempty"`
	SkipVerify bool   `json:"skipVerify,omitempty"`
	Plaintext  bool   `json:"plaintext,omitempty"`

	StateBackend string `json:"stateBackend"`
	StateDir     string `json:"stateDir"`
	RedisURL     string `json:"redisUrl,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`
}

// Dir is the per-user configuration directory.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "gk-unlock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gk-unlock")
}

// DefaultClientPath is where LoadClient looks when no --config is given.
func DefaultClientPath() string { return filepath.Join(Dir(), "config.json") }

// DefaultClient returns the built-in defaults.
func DefaultClient() Client {
	return Client{
		Server:       "localhost:8443",
		Transport:    TransportGRPC,
		StateBackend: StateFile,
		StateDir:     Dir(),
		LogLevel:     "warn",
	}
}

// LoadClientFile overlays the JSON file at path onto c. A missing file is not an error.
func LoadClientFile(path string, c *Client) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays GK_* environment variables onto c.
func (c *Client) ApplyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"GK_SERVER":        &c.Server,
		"GK_TRANSPORT":     &c.Transport,
		"GK_CA_FILE":       &c.CAFile,
		"GK_STATE_BACKEND": &c.StateBackend,
		"GK_STATE_DIR":     &c.StateDir,
		"GK_REDIS_URL":     &c.RedisURL,
		"GK_LOG_LEVEL":     &c.LogLevel,
	}
	for k, p := range str {
		if v := getenv(k); v != "" {
			*p = v
		}
	}
	bools := map[string]*bool{
		"GK_SKIP_VERIFY": &c.SkipVerify,
		"GK_PLAINTEXT":   &c.Plaintext,
	}
	for k, p := range bools {
		if v := getenv(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*p = b
		}
	}
	return nil
}

// BindFlags registers flags whose defaults are the current values of c, so flags
// win over file and environment once parsed.
func (c *Client) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Server, "server", "s", c.Server, "server address (host:port for grpc, base URL for http)")
	fs.StringVar(&c.Transport, "transport", c.Transport, "transport: grpc or http")
	fs.StringVar(&c.CAFile, "ca", c.CAFile, "CA certificate (PEM) for the server")
	fs.BoolVar(&c.SkipVerify, "insecure", c.SkipVerify, "skip TLS verification (dev only)")
	fs.BoolVar(&c.Plaintext, "plaintext", c.Plaintext, "connect without TLS (dev only)")
	fs.StringVar(&c.StateBackend, "state", c.StateBackend, "persistent state backend: file or redis")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "directory for the file state backend")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "redis URL for the redis state backend")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
}

// StatePath is the file used by the file state backend.
func (c Client) StatePath() string { return filepath.Join(c.StateDir, "state.json") }

// Validate reports settings the client cannot run with.
func (c Client) Validate() error {
	if c.Server == "" {
		return errors.New("empty server address")
	}
	switch c.Transport {
	case TransportGRPC, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.StateBackend {
	case StateFile:
		if c.StateDir == "" {
			return errors.New("file state backend needs --state-dir")
		}
	case StateRedis:
		if c.RedisURL == "" {
			return errors.New("redis state backend needs --redis-url")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}
	return nil
}
