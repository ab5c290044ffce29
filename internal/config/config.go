package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	PagesCSVPath string
	DBPath       string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Harvest settings
	WorkerCount   int
	Interval      time.Duration
	PostsPerPage  int
	TimelinePages int

	// Summarizer settings
	OpenAIKey   string
	OpenAIModel string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		PagesCSVPath:  DefaultPagesCSVPath,
		DBPath:        DefaultDBPath,
		ServerHost:    DefaultServerHost,
		ServerPort:    DefaultServerPort,
		APIKey:        GetEnvString("FBHARVEST_API_KEY", ""),
		WorkerCount:   DefaultWorkerCount,
		Interval:      time.Duration(DefaultInterval) * time.Minute,
		PostsPerPage:  DefaultPostsPerPage,
		TimelinePages: DefaultTimelinePages,
		OpenAIKey:     GetEnvString("OPENAI_API_KEY", ""),
		OpenAIModel:   GetEnvString("FBHARVEST_OPENAI_MODEL", DefaultOpenAIModel),
		LogLevel:      logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// OneShot reports whether the harvester should run a single cycle and
// exit. Any non-positive interval means one-shot; it must never reach a
// ticker, which panics on non-positive durations.
func (c *Config) OneShot() bool {
	return c.Interval <= 0
}
