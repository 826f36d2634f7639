package main

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/CrowderSoup/taskpro/services"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the server configuration
type Config struct {
	Server   ServerConfig        `toml:"server"`
	Database DatabaseConfig      `toml:"database"`
	Auth     AuthConfig          `toml:"auth"`
	Cache    CacheConfig         `toml:"cache"`
	SMTP     services.SMTPConfig `toml:"smtp"`
}

type ServerConfig struct {
	Port        string   `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	Debug       bool     `toml:"debug"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret string  `toml:"jwt_secret"`
	JWTTTL    string  `toml:"jwt_ttl"`
	Rate      float64 `toml:"rate"`
	Burst     int     `toml:"burst"`
}

type CacheConfig struct {
	RedisURL string `toml:"redis_url"`
	TTL      string `toml:"ttl"`
}

// TokenTTL returns the session token lifetime
func (c *Config) TokenTTL() (time.Duration, error) {
	return parseDuration("jwt_ttl", c.Auth.JWTTTL)
}

// CacheTTL returns how long board views stay cached
func (c *Config) CacheTTL() (time.Duration, error) {
	return parseDuration("cache ttl", c.Cache.TTL)
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", name)
	}
	return d, nil
}

// Validate reports settings the server cannot start without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	return nil
}

// DefaultConfig returns the embedded example configuration
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":          &c.Server.Port,
		"DATABASE_PATH": &c.Database.Path,
		"JWT_SECRET":    &c.Auth.JWTSecret,
		"JWT_TTL":       &c.Auth.JWTTTL,
		"REDIS_URL":     &c.Cache.RedisURL,
		"CACHE_TTL":     &c.Cache.TTL,
		"SMTP_HOST":     &c.SMTP.Host,
		"SMTP_PORT":     &c.SMTP.Port,
		"SMTP_USERNAME": &c.SMTP.Username,
		"SMTP_PASSWORD": &c.SMTP.Password,
		"SMTP_FROM":     &c.SMTP.From,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
		c.Server.Debug = dbg
	}
	return nil
}

// LoadEnv loads environment variables from a .env file. Variables already
// set in the environment win.
func LoadEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		// Split on the first equals sign
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		// Trim spaces and optional quotes from the value
		key := strings.TrimSpace(strings.TrimPrefix(parts[0], "export "))
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	return scanner.Err()
}
