// Package config loads server configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coderelay/internal/logging"
)

// Config holds server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Noise     NoiseConfig     `yaml:"noise"`
	Languages LanguagesConfig `yaml:"languages"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Limits    LimitsConfig    `yaml:"limits"`
	Log       logging.Config  `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	StaticDir      string        `yaml:"static_dir"`
	OneShotTimeout time.Duration `yaml:"oneshot_timeout"`
}

type SessionsConfig struct {
	MaxSessions    int `yaml:"max_sessions"`
	TranscriptSize int `yaml:"transcript_size"`
	SendQueue      int `yaml:"send_queue"`
	InputQueue     int `yaml:"input_queue"`
}

type SandboxConfig struct {
	Runtime        string        `yaml:"runtime"`        // container CLI, e.g. docker or podman
	WorkspaceRoot  string        `yaml:"workspace_root"` // host directory for staged sources
	MountPoint     string        `yaml:"mount_point"`    // workspace path inside the container
	AllocateTTY    bool          `yaml:"allocate_tty"`   // pass -t so programs see a terminal
	LaunchMode     string        `yaml:"launch_mode"`    // direct or shell
	Shell          string        `yaml:"shell"`          // host shell for launch_mode=shell
	ExtraArgs      []string      `yaml:"extra_args"`     // inserted before the image name
	Cols           uint16        `yaml:"cols"`
	Rows           uint16        `yaml:"rows"`
	TerminateGrace time.Duration `yaml:"terminate_grace"`
	PullImages     bool          `yaml:"pull_images"` // pull missing images at startup
	ForceRemove    bool          `yaml:"force_remove"` // remove containers through the engine API on terminate
}

type NoiseConfig struct {
	Profile      string   `yaml:"profile"`       // auto, linux, darwin, windows
	Extra        []string `yaml:"extra"`         // additional regexps
	SuppressEcho bool     `yaml:"suppress_echo"` // drop the terminal echo of input lines
}

type LanguagesConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type JanitorConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type LimitsConfig struct {
	GlobalRPS     float64 `yaml:"global_rps"`
	PerIPRPS      float64 `yaml:"per_ip_rps"`
	PerIPBurst    int     `yaml:"per_ip_burst"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8010,
			OneShotTimeout: 30 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxSessions:    50,
			TranscriptSize: 500,
			SendQueue:      256,
			InputQueue:     256,
		},
		Sandbox: SandboxConfig{
			Runtime:        "docker",
			MountPoint:     "/app",
			AllocateTTY:    true,
			LaunchMode:     "direct",
			Shell:          "bash",
			Cols:           80,
			Rows:           30,
			TerminateGrace: 5 * time.Second,
			ForceRemove:    true,
		},
		Noise: NoiseConfig{
			Profile:      "auto",
			SuppressEcho: true,
		},
		Janitor: JanitorConfig{
			Schedule: "@every 10m",
			MaxAge:   time.Hour,
		},
		Limits: LimitsConfig{
			GlobalRPS:     100,
			PerIPRPS:      10,
			PerIPBurst:    20,
			MaxConcurrent: 20,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. A .env file in the working directory
// is loaded first if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sessions.MaxSessions = n
		}
	}
	if v := os.Getenv("CODERELAY_RUNTIME"); v != "" {
		cfg.Sandbox.Runtime = v
	}
	if v := os.Getenv("CODERELAY_WORKSPACE_ROOT"); v != "" {
		cfg.Sandbox.WorkspaceRoot = v
	}
	if v := os.Getenv("CODERELAY_LAUNCH_MODE"); v != "" {
		cfg.Sandbox.LaunchMode = v
	}
	if v := os.Getenv("CODERELAY_NOISE_PROFILE"); v != "" {
		cfg.Noise.Profile = v
	}
	if v := os.Getenv("CODERELAY_LANGUAGES_FILE"); v != "" {
		cfg.Languages.File = v
	}
	if v := os.Getenv("CODERELAY_PULL_IMAGES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sandbox.PullImages = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Sessions.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must be positive"))
	}
	if c.Sessions.TranscriptSize <= 0 {
		errs = append(errs, fmt.Errorf("sessions.transcript_size must be positive"))
	}
	if c.Sessions.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("sessions.send_queue must be positive"))
	}
	if c.Sessions.InputQueue <= 0 {
		errs = append(errs, fmt.Errorf("sessions.input_queue must be positive"))
	}
	if c.Sandbox.Runtime == "" {
		errs = append(errs, fmt.Errorf("sandbox.runtime is required"))
	}
	if !strings.HasPrefix(c.Sandbox.MountPoint, "/") {
		errs = append(errs, fmt.Errorf("sandbox.mount_point must be absolute: %q", c.Sandbox.MountPoint))
	}
	switch c.Sandbox.LaunchMode {
	case "direct", "shell":
	default:
		errs = append(errs, fmt.Errorf("sandbox.launch_mode must be direct or shell: %q", c.Sandbox.LaunchMode))
	}
	switch c.Noise.Profile {
	case "auto", "linux", "darwin", "windows":
	default:
		errs = append(errs, fmt.Errorf("noise.profile unknown: %q", c.Noise.Profile))
	}
	return errors.Join(errs...)
}

// NoiseProfile resolves "auto" to the host operating system.
func (c Config) NoiseProfile() string {
	if c.Noise.Profile == "" || c.Noise.Profile == "auto" {
		return runtime.GOOS
	}
	return c.Noise.Profile
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
