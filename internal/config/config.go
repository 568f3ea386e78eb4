package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/tabrelay/internal/logging"
)

const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8765
	DefaultStatsSchedule = "@every 1m"
)

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// LoadFile loads configuration from a YAML file on disk
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// parseBool parses a string as boolean with a default value.
// Accepts: "true", "1", "yes" as true; empty or other values return default.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}

type Config struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Relay struct {
		AllowRemote     string `yaml:"allow_remote"`
		AllowedOrigins  string `yaml:"allowed_origins"`
		MaxMessageBytes int64  `yaml:"max_message_bytes"`
		PongWaitSeconds int    `yaml:"pong_wait_seconds"`
		OutboundBuffer  int    `yaml:"outbound_buffer"`
	} `yaml:"relay"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Stats struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"stats"`
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Stats.Schedule == "" {
		c.Stats.Schedule = DefaultStatsSchedule
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL is the websocket base the clients dial.
func (c Config) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// HTTPURL is the plain HTTP base for status queries.
func (c Config) HTTPURL() string {
	return "http" + strings.TrimPrefix(c.BaseURL(), "ws")
}

func (c Config) IsAllowRemote() bool {
	return parseBool(c.Relay.AllowRemote, false)
}

// AllowedOrigins splits the comma separated origin list.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.Relay.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c Config) PongWait() time.Duration {
	return time.Duration(c.Relay.PongWaitSeconds) * time.Second
}

// Watch calls fn with the reloaded config whenever the file at path is
// written. Call the returned func to stop watching.
func Watch(path string, fn func(Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	name := filepath.Base(path)

	go func() {
		var debounceTimer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
						c, err := LoadFile(path)
						if err != nil {
							logging.Warnf("[config] reload of %s failed: %v", path, err)
							return
						}
						logging.Infof("[config] %s reloaded", name)
						fn(c)
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warnf("[config] watcher error: %v", err)
			}
		}
	}()

	logging.Debugf("[config] watching %s for changes", path)
	return watcher.Close, nil
}
