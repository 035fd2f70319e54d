package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of
// warden's components.
type Config struct {
	// Hostname or IP address on which the gateway will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Path of the lock file used to keep a second instance from starting.
	LockFilePath string `mapstructure:"lock_file_path"`

	Gateway struct {
		// Port on which the gateway will listen.
		Port int `mapstructure:"port"`
		// PEM file containing the host's RSA-2048 private key.
		PrivateKeyFile string `mapstructure:"private_key_file"`
		// How long a connection waits for a supervisor to answer a command.
		ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	} `mapstructure:"gateway"`

	Database struct {
		// Path of the SQLite database file holding accounts and server records.
		Filename string `mapstructure:"filename"`
		// Enable database-level query logging.
		LoggingEnabled bool `mapstructure:"logging_enabled"`
	} `mapstructure:"database"`

	Assets struct {
		// Base URL of the asset upload service (e.g. https://assets.example.com).
		URL string `mapstructure:"url"`
		// Bearer token for the asset upload endpoint.
		Token string `mapstructure:"token"`
	} `mapstructure:"assets"`

	Supervisor struct {
		// Interval between command channel polls in a worker's loop.
		PollInterval time.Duration `mapstructure:"poll_interval"`
		// Delay before retrying a failed process spawn.
		SpawnRetryInterval time.Duration `mapstructure:"spawn_retry_interval"`
		// Interval between shutdown directives written to a stopping process.
		StopInterval time.Duration `mapstructure:"stop_interval"`
		// Ceiling on a graceful shutdown before the process is killed.
		StopTimeout time.Duration `mapstructure:"stop_timeout"`
	} `mapstructure:"supervisor"`
}

const envVarPrefix = "WARDEN"

// LoadConfig initializes Viper with the contents of the config file under
// configPath and unmarshals it into a Config.
func LoadConfig(configPath string) (*Config, error) {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file in %s: %w", configPath, err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, gateway.port can be set using: WARDEN_GATEWAY_PORT
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return config, nil
}

func setDefaults() {
	viper.SetDefault("hostname", "127.0.0.1")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("lock_file_path", "warden.lock")
	viper.SetDefault("gateway.port", 23786)
	viper.SetDefault("gateway.response_timeout", 5*time.Second)
	viper.SetDefault("database.filename", "warden.db")
	viper.SetDefault("supervisor.poll_interval", 100*time.Millisecond)
	viper.SetDefault("supervisor.spawn_retry_interval", 5*time.Second)
	viper.SetDefault("supervisor.stop_interval", 5*time.Second)
	viper.SetDefault("supervisor.stop_timeout", 5*time.Minute)
}

// GatewayAddress returns the host:port pair the gateway should bind.
func (c *Config) GatewayAddress() string {
	return fmt.Sprintf("%s:%v", c.Hostname, c.Gateway.Port)
}
