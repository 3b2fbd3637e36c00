package logger

import (
	"fmt"
	"io"
	"os"
)

// OutputFormat represents the output format
type OutputFormat int

const (
	DefaultFormat OutputFormat = iota
	JSONFormat
)

// FileConfig holds file rotation settings, passed through to lumberjack.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// Config holds the configuration for the logger
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	Output     io.Writer
	Subsystem  string
	FileConfig *FileConfig
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: DefaultFormat,
		Output: os.Stderr,
	}
}

// ProductionConfig returns a JSON configuration with file rotation
func ProductionConfig(appName string) *Config {
	return &Config{
		Level:  InfoLevel,
		Format: JSONFormat,
		Output: os.Stderr,
		FileConfig: &FileConfig{
			Filename:   fmt.Sprintf("logs/%s.log", appName),
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}
