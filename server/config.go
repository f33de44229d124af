// Copyright 2024 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"os"
	"time"

	"github.com/echotools/gamespace/service"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root of the host configuration file.
type Config struct {
	Name      string           `yaml:"name" json:"name" validate:"required" usage:"Node name, used in logs and metrics."`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger" validate:"required"`
	Socket    *SocketConfig    `yaml:"socket" json:"socket" validate:"required"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics" validate:"required"`
	GameSpace *GameSpaceConfig `yaml:"game_space" json:"game_space" validate:"required"`
	Lobby     *LobbyConfig     `yaml:"lobby" json:"lobby" validate:"required"`
}

func NewConfig() *Config {
	return &Config{
		Name:      "gamespace",
		Logger:    NewLoggerConfig(),
		Socket:    NewSocketConfig(),
		Metrics:   NewMetricsConfig(),
		GameSpace: NewGameSpaceConfig(),
		Lobby:     NewLobbyConfig(),
	}
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	cfgCopy.Logger = c.Logger.Clone()
	cfgCopy.Socket = c.Socket.Clone()
	cfgCopy.Metrics = c.Metrics.Clone()
	cfgCopy.GameSpace = c.GameSpace.Clone()
	cfgCopy.Lobby = c.Lobby.Clone()
	return &cfgCopy
}

// LoggerConfig is configuration relevant to logging levels and output.
type LoggerConfig struct {
	Level      string `yaml:"level" json:"level" validate:"oneof=debug info warn error" usage:"Log level to set. Valid values are 'debug', 'info', 'warn', 'error'. Default 'info'."`
	Stdout     bool   `yaml:"stdout" json:"stdout" usage:"Log to standard console output (as well as to a log file if set). Default true."`
	File       string `yaml:"file" json:"file" usage:"Log output to a file (as well as stdout if set). Make sure that the directory and the file is writable."`
	Rotation   bool   `yaml:"rotation" json:"rotation" usage:"Rotate log files. Default is false."`
	MaxSize    int    `yaml:"max_size" json:"max_size" validate:"gte=0" usage:"The maximum size in megabytes of the log file before it gets rotated. It defaults to 100 megabytes."`
	MaxAge     int    `yaml:"max_age" json:"max_age" validate:"gte=0" usage:"The maximum number of days to retain old log files based on the timestamp encoded in their filename. The default is not to remove old log files based on age."`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" validate:"gte=0" usage:"The maximum number of old log files to retain. The default is to retain all old log files (though MaxAge may still cause them to get deleted.)"`
	LocalTime  bool   `yaml:"local_time" json:"local_time" usage:"This determines if the time used for formatting the timestamps in backup files is the computer's local time. The default is to use UTC time."`
	Compress   bool   `yaml:"compress" json:"compress" usage:"This determines if the rotated log files should be compressed using gzip."`
	Format     string `yaml:"format" json:"format" validate:"oneof=json stackdriver console" usage:"Set logging output format. Can either be 'JSON', 'Stackdriver' or 'console'. Default is 'JSON'."`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		Stdout:     true,
		File:       "",
		Rotation:   false,
		MaxSize:    100,
		MaxAge:     0,
		MaxBackups: 0,
		LocalTime:  false,
		Compress:   false,
		Format:     "json",
	}
}

func (cfg *LoggerConfig) Clone() *LoggerConfig {
	if cfg == nil {
		return nil
	}
	cfgCopy := *cfg
	return &cfgCopy
}

// SocketConfig is configuration relevant to the websocket transport.
type SocketConfig struct {
	Address              string `yaml:"address" json:"address" usage:"The IP address of the interface to listen for client traffic on. Default listen on all available addresses/interfaces."`
	Port                 int    `yaml:"port" json:"port" validate:"gte=0,lte=65535" usage:"The port for accepting connections from the client for the given interface(s). Default 7350."`
	ReadBufferSizeBytes  int    `yaml:"read_buffer_size_bytes" json:"read_buffer_size_bytes" validate:"gt=0" usage:"Size in bytes of the pre-allocated socket read buffer. Default 4096."`
	WriteBufferSizeBytes int    `yaml:"write_buffer_size_bytes" json:"write_buffer_size_bytes" validate:"gt=0" usage:"Size in bytes of the pre-allocated socket write buffer. Default 4096."`
	MaxMessageSizeBytes  int64  `yaml:"max_message_size_bytes" json:"max_message_size_bytes" validate:"gt=0" usage:"Maximum amount of data in bytes allowed to be read from the client socket per message."`
	WriteWaitMs          int    `yaml:"write_wait_ms" json:"write_wait_ms" validate:"gt=0" usage:"Time in milliseconds to wait for an ack from the client when writing data. Default 5000."`
	PongWaitMs           int    `yaml:"pong_wait_ms" json:"pong_wait_ms" validate:"gt=0" usage:"Time in milliseconds to wait between pong messages received from the client. Default 25000."`
	PingPeriodMs         int    `yaml:"ping_period_ms" json:"ping_period_ms" validate:"gt=0,ltfield=PongWaitMs" usage:"Time in milliseconds to wait between sending ping messages to the client. This value must be less than the pong_wait_ms. Default 15000."`
	OutgoingQueueSize    int    `yaml:"outgoing_queue_size" json:"outgoing_queue_size" validate:"gt=0" usage:"The maximum number of messages waiting to be sent to the client. If this is exceeded the client is considered too slow and will disconnect. Default 64."`
}

func NewSocketConfig() *SocketConfig {
	return &SocketConfig{
		Address:              "",
		Port:                 7350,
		ReadBufferSizeBytes:  4096,
		WriteBufferSizeBytes: 4096,
		MaxMessageSizeBytes:  4096,
		WriteWaitMs:          5000,
		PongWaitMs:           25000,
		PingPeriodMs:         15000,
		OutgoingQueueSize:    64,
	}
}

func (cfg *SocketConfig) Clone() *SocketConfig {
	if cfg == nil {
		return nil
	}
	cfgCopy := *cfg
	return &cfgCopy
}

func (cfg *SocketConfig) GetWriteWait() time.Duration {
	return time.Duration(cfg.WriteWaitMs) * time.Millisecond
}

func (cfg *SocketConfig) GetPongWait() time.Duration {
	return time.Duration(cfg.PongWaitMs) * time.Millisecond
}

func (cfg *SocketConfig) GetPingPeriod() time.Duration {
	return time.Duration(cfg.PingPeriodMs) * time.Millisecond
}

// MetricsConfig is configuration relevant to metrics capturing and output.
type MetricsConfig struct {
	ReportingFreqSec int    `yaml:"reporting_freq_sec" json:"reporting_freq_sec" validate:"gt=0" usage:"Frequency of metrics exports. Default is 60 seconds."`
	Namespace        string `yaml:"namespace" json:"namespace" usage:"Namespace for Prometheus metrics. It will always prepend node name."`
	PrometheusPort   int    `yaml:"prometheus_port" json:"prometheus_port" validate:"gte=0,lte=65535" usage:"Port to expose Prometheus. If '0' Prometheus exports are disabled."`
	Prefix           string `yaml:"prefix" json:"prefix" usage:"Prefix for metric names. Default is 'gamespace', empty string '' disables the prefix."`
}

func NewMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		ReportingFreqSec: 60,
		Namespace:        "",
		PrometheusPort:   0,
		Prefix:           "gamespace",
	}
}

func (cfg *MetricsConfig) Clone() *MetricsConfig {
	if cfg == nil {
		return nil
	}
	cfgCopy := *cfg
	return &cfgCopy
}

// GameSpaceConfig is configuration relevant to joining game spaces.
type GameSpaceConfig struct {
	HostWorld     string   `yaml:"host_world" json:"host_world" validate:"required" usage:"World new connections are placed in."`
	JoinRateLimit float64  `yaml:"join_rate_limit" json:"join_rate_limit" validate:"gte=0" usage:"Join attempts per second allowed per player. '0' disables throttling."`
	JoinBurst     int      `yaml:"join_burst" json:"join_burst" validate:"gte=0" usage:"Join attempts a player may make in a burst."`
	ViewDistance  int      `yaml:"view_distance" json:"view_distance" validate:"gt=0" usage:"View distance sent in the first-join handshake. Default 10."`
	Brand         string   `yaml:"brand" json:"brand" usage:"Server brand sent in the first-join handshake."`
	Features      []string `yaml:"features" json:"features" usage:"Feature flags sent in the first-join handshake."`
	Commands      []string `yaml:"commands" json:"commands" usage:"Commands advertised to every player."`
}

func NewGameSpaceConfig() *GameSpaceConfig {
	return &GameSpaceConfig{
		HostWorld:     "hub",
		JoinRateLimit: 1,
		JoinBurst:     3,
		ViewDistance:  10,
		Brand:         "gamespace",
		Features:      []string{"vanilla"},
		Commands:      []string{"join", "leave", "team"},
	}
}

func (cfg *GameSpaceConfig) Clone() *GameSpaceConfig {
	if cfg == nil {
		return nil
	}
	cfgCopy := *cfg
	cfgCopy.Features = append([]string(nil), cfg.Features...)
	cfgCopy.Commands = append([]string(nil), cfg.Commands...)
	return &cfgCopy
}

// LobbyConfig describes the waiting lobby opened for each new game.
type LobbyConfig struct {
	Worlds          []string       `yaml:"worlds" json:"worlds" validate:"required,min=1,dive,required" usage:"Worlds owned by each game space. The first is the spawn world."`
	Spawn           service.Vec3   `yaml:"spawn" json:"spawn" usage:"Spawn position inside the first world."`
	MaxPlayers      int            `yaml:"max_players" json:"max_players" validate:"gte=0" usage:"Maximum players in one game. '0' is unbounded."`
	MinPlayers      int            `yaml:"min_players" json:"min_players" validate:"gte=0" usage:"Players required before the game can start."`
	Teams           []service.Team `yaml:"teams" json:"teams" validate:"dive" usage:"Selectable teams. Empty disables team selection."`
	BannedUsernames []string       `yaml:"banned_usernames" json:"banned_usernames" usage:"Usernames refused by the lobby."`
}

func NewLobbyConfig() *LobbyConfig {
	return &LobbyConfig{
		Worlds:     []string{"arena"},
		MaxPlayers: 8,
		MinPlayers: 2,
		Teams: []service.Team{
			{Key: "blue", Display: "Blue", Color: "blue", MaxSize: 4},
			{Key: "orange", Display: "Orange", Color: "gold", MaxSize: 4},
		},
	}
}

func (cfg *LobbyConfig) Clone() *LobbyConfig {
	if cfg == nil {
		return nil
	}
	cfgCopy := *cfg
	cfgCopy.Worlds = append([]string(nil), cfg.Worlds...)
	cfgCopy.Teams = append([]service.Team(nil), cfg.Teams...)
	cfgCopy.BannedUsernames = append([]string(nil), cfg.BannedUsernames...)
	return &cfgCopy
}

// ParseConfig reads a YAML file over the defaults and validates the result.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfigBytes(data)
}

func ParseConfigBytes(data []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func ValidateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if config.Lobby.MinPlayers > config.Lobby.MaxPlayers && config.Lobby.MaxPlayers > 0 {
		return fmt.Errorf("invalid config: lobby.min_players %d exceeds lobby.max_players %d", config.Lobby.MinPlayers, config.Lobby.MaxPlayers)
	}
	for _, w := range config.Lobby.Worlds {
		if w == config.GameSpace.HostWorld {
			return fmt.Errorf("invalid config: lobby world %q is the host world", w)
		}
	}
	return nil
}
