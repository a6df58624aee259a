package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/namithm70/fitnessapp-sub001/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Store    Store    `json:"store"`
	Media    Media    `json:"media"`
	History  History  `json:"history"`
	Relay    Relay    `json:"relay"`
}

type Identity struct {
	// UserID identifies this device's user in call-session records.
	UserID string `json:"user_id"`
}

type Store struct {
	// Backend selects where call-session records live:
	// "memory", "redis", "mongo" or "relay".
	Backend string `json:"backend"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// RelayURL is the websocket endpoint of a relay server,
	// e.g. ws://rv.example.org:8788/ws. Required when Backend is "relay".
	RelayURL string `json:"relay_url"`
}

type Media struct {
	// STUNServers are handed to the engine for candidate discovery.
	STUNServers []string `json:"stun_servers"`
}

type History struct {
	Enabled bool `json:"enabled"`

	// Path is the directory holding the call log database.
	Path string `json:"path"`
}

type Relay struct {
	// If true, run a local relay server on Bind:Port.
	Host bool `json:"host"`

	// Bind address for the relay server. Default "127.0.0.1" (localhost only).
	// Set to "0.0.0.0" to accept connections from other machines.
	Bind string `json:"bind"`

	Port int `json:"port"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			UserID: "",
		},
		Store: Store{
			Backend:       "memory",
			RedisAddr:     "127.0.0.1:6379",
			RedisDB:       0,
			MongoURI:      "mongodb://127.0.0.1:27017",
			MongoDatabase: "fitness",
			RelayURL:      "",
		},
		Media: Media{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		History: History{
			Enabled: true,
			Path:    "data",
		},
		Relay: Relay{
			Host: false,
			Bind: "127.0.0.1",
			Port: 8788,
		},
	}
}

func (c *Config) Validate() error {
	// Store
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return errors.New("store.redis_addr is required when backend is redis")
		}
	case "mongo":
		if strings.TrimSpace(c.Store.MongoURI) == "" {
			return errors.New("store.mongo_uri is required when backend is mongo")
		}
		if strings.TrimSpace(c.Store.MongoDatabase) == "" {
			return errors.New("store.mongo_database is required when backend is mongo")
		}
	case "relay":
		if err := validateRelayURL(c.Store.RelayURL); err != nil {
			return fmt.Errorf("store.relay_url: %w", err)
		}
	default:
		return fmt.Errorf("store.backend must be memory, redis, mongo or relay (got %q)", c.Store.Backend)
	}

	// Media
	if len(c.Media.STUNServers) == 0 {
		return errors.New("media.stun_servers must not be empty")
	}
	for _, s := range c.Media.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") {
			return fmt.Errorf("media.stun_servers: %q must start with stun: or turn:", s)
		}
	}

	// History
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return errors.New("history.path is required when history is enabled")
	}

	// Relay (local server)
	if c.Relay.Host {
		if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
			return errors.New("relay.port must be 1..65535 when relay.host is enabled")
		}
		if b := c.Relay.Bind; b != "" {
			if net.ParseIP(b) == nil {
				return errors.New("relay.bind must be a valid IP address")
			}
		}
	}

	return nil
}

func validateRelayURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("required when backend is relay")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
