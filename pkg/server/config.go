package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultRoom is the room every client can rely on existing. It receives the
// unconditional disconnect notice and hosts presence traffic.
const DefaultRoom = "general"

// Config holds the runtime server configuration.
type Config struct {
	Host               string
	Port               int
	MaxConnections     int
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	MaxFileSize        int64
	AllowedFileTypes   []string
	CompressionWorkers int
	ClusterWorkers     string // "auto" or a positive integer
	DefaultRooms       []string
	ReusePort          bool
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               9090,
		MaxConnections:     100,
		HeartbeatInterval:  30 * time.Second,
		HeartbeatTimeout:   45 * time.Second,
		MaxFileSize:        5 * 1024 * 1024,
		AllowedFileTypes:   []string{".txt", ".pdf", ".jpg", ".png", ".zip"},
		CompressionWorkers: 2,
		ClusterWorkers:     "auto",
		DefaultRooms:       []string{DefaultRoom},
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Cluster ClusterSection `toml:"cluster"`
	Files   FilesSection   `toml:"files"`
	Rooms   RoomsSection   `toml:"rooms"`
}

type ServerSection struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	MaxConnections      int    `toml:"max_connections"`
	HeartbeatIntervalMs int    `toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int    `toml:"heartbeat_timeout_ms"`
}

type ClusterSection struct {
	Workers string `toml:"workers"`
}

type FilesSection struct {
	MaxFileSize        int64    `toml:"max_file_size"`
	AllowedFileTypes   []string `toml:"allowed_file_types"`
	CompressionWorkers int      `toml:"compression_workers"`
}

type RoomsSection struct {
	Defaults []string `toml:"defaults"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			Host:                def.Host,
			Port:                def.Port,
			MaxConnections:      def.MaxConnections,
			HeartbeatIntervalMs: int(def.HeartbeatInterval / time.Millisecond),
			HeartbeatTimeoutMs:  int(def.HeartbeatTimeout / time.Millisecond),
		},
		Cluster: ClusterSection{
			Workers: def.ClusterWorkers,
		},
		Files: FilesSection{
			MaxFileSize:        def.MaxFileSize,
			AllowedFileTypes:   def.AllowedFileTypes,
			CompressionWorkers: def.CompressionWorkers,
		},
		Rooms: RoomsSection{
			Defaults: def.DefaultRooms,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Roomcast Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToConfig converts TOMLConfig to the runtime Config, filling gaps with
// defaults.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	if c.Server.MaxConnections != 0 {
		cfg.MaxConnections = c.Server.MaxConnections
	}
	if c.Server.HeartbeatIntervalMs != 0 {
		cfg.HeartbeatInterval = time.Duration(c.Server.HeartbeatIntervalMs) * time.Millisecond
	}
	if c.Server.HeartbeatTimeoutMs != 0 {
		cfg.HeartbeatTimeout = time.Duration(c.Server.HeartbeatTimeoutMs) * time.Millisecond
	}
	if strings.TrimSpace(c.Cluster.Workers) != "" {
		cfg.ClusterWorkers = c.Cluster.Workers
	}
	if c.Files.MaxFileSize != 0 {
		cfg.MaxFileSize = c.Files.MaxFileSize
	}
	if len(c.Files.AllowedFileTypes) > 0 {
		cfg.AllowedFileTypes = c.Files.AllowedFileTypes
	}
	if c.Files.CompressionWorkers != 0 {
		cfg.CompressionWorkers = c.Files.CompressionWorkers
	}
	if len(c.Rooms.Defaults) > 0 {
		cfg.DefaultRooms = c.Rooms.Defaults
	}

	return cfg
}
