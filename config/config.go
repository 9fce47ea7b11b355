// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the qvisord configuration from defaults, an
// optional configuration file, and QVISOR_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, so that
// engine.binary is read from QVISOR_ENGINE_BINARY.
const EnvPrefix = "QVISOR"

type Engine struct {
	// Binary is the emulator executable.
	Binary string `mapstructure:"binary"`

	// ImgBinary creates disk images.
	ImgBinary string `mapstructure:"img_binary"`

	// RunDir holds monitor sockets.  Empty disables the monitor and
	// falls back to signals.
	RunDir string `mapstructure:"run_dir"`

	Display     string `mapstructure:"display"`
	AudioDriver string `mapstructure:"audio_driver"`
}

type Nats struct {
	// URL of the NATS server.  Empty disables event publishing.
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Name    string `mapstructure:"name"`

	// Output also publishes console output lines.
	Output bool `mapstructure:"output"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config holds all qvisord configuration.
type Config struct {
	// Name identifies the daemon to clients.
	Name string `mapstructure:"name"`

	// Listen is the address of the REST server.
	Listen string `mapstructure:"listen"`

	// MaxConns bounds concurrent HTTP connections.  Zero is unlimited.
	MaxConns int `mapstructure:"max_conns"`

	// AuthUser and AuthHash enable HTTP basic authentication.  The
	// hash is a bcrypt hash of the password.
	AuthUser string `mapstructure:"auth_user"`
	AuthHash string `mapstructure:"auth_hash"`

	// StorePath is the directory of the descriptor database.  Empty
	// keeps descriptors in memory only.
	StorePath string `mapstructure:"store_path"`

	// ManifestDir is scanned for *.json machine manifests at startup.
	ManifestDir string `mapstructure:"manifest_dir"`

	Engine Engine `mapstructure:"engine"`

	// StopTimeout is the grace period before a stopping machine is
	// killed.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// ReadyTimeout bounds how long a run waits for the monitor.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`

	// OutputBuffer is the number of output records kept per machine.
	OutputBuffer int `mapstructure:"output_buffer"`

	Nats Nats `mapstructure:"nats"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `mapstructure:"metrics"`

	Log Log `mapstructure:"log"`
}

// Default returns a Config with the built in defaults.
func Default() *Config {
	return &Config{
		Name:         "qvisord",
		Listen:       "127.0.0.1:8321",
		MaxConns:     64,
		StorePath:    "",
		ManifestDir:  "",
		StopTimeout:  30 * time.Second,
		ReadyTimeout: 30 * time.Second,
		OutputBuffer: 1000,
		Engine: Engine{
			Binary:    "qemu-system-x86_64",
			ImgBinary: "qemu-img",
			RunDir:    "/run/qvisor",
			Display:   "none",
		},
		Nats: Nats{
			Subject: "qvisor",
			Name:    "qvisord",
			Output:  true,
		},
		Metrics: true,
		Log: Log{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("name", d.Name)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("max_conns", d.MaxConns)
	v.SetDefault("auth_user", d.AuthUser)
	v.SetDefault("auth_hash", d.AuthHash)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("manifest_dir", d.ManifestDir)
	v.SetDefault("engine.binary", d.Engine.Binary)
	v.SetDefault("engine.img_binary", d.Engine.ImgBinary)
	v.SetDefault("engine.run_dir", d.Engine.RunDir)
	v.SetDefault("engine.display", d.Engine.Display)
	v.SetDefault("engine.audio_driver", d.Engine.AudioDriver)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("ready_timeout", d.ReadyTimeout)
	v.SetDefault("output_buffer", d.OutputBuffer)
	v.SetDefault("nats.url", d.Nats.URL)
	v.SetDefault("nats.subject", d.Nats.Subject)
	v.SetDefault("nats.name", d.Nats.Name)
	v.SetDefault("nats.output", d.Nats.Output)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// New returns a viper instance with defaults and environment binding
// set up.  Callers may bind command line flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration.  If file is empty, qvisord.yaml is
// looked for in the working directory and /etc/qvisor, and a missing
// file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("qvisord")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/qvisor")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks for settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("config: listen address required")
	case c.StopTimeout <= 0:
		return errors.New("config: stop_timeout must be positive")
	case c.ReadyTimeout < 0:
		return errors.New("config: ready_timeout must not be negative")
	case c.MaxConns < 0:
		return errors.New("config: max_conns must not be negative")
	case c.OutputBuffer < 0:
		return errors.New("config: output_buffer must not be negative")
	case c.Engine.Binary == "":
		return errors.New("config: engine.binary required")
	case (c.AuthUser == "") != (c.AuthHash == ""):
		return errors.New("config: auth_user and auth_hash must be set together")
	case c.Nats.URL != "" && c.Nats.Subject == "":
		return errors.New("config: nats.subject required with nats.url")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}
