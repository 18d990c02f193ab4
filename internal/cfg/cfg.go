package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath        string
	ModelName       string
	DefinitionPath  string
	TrainCSV        string
	DatasetBaseURL  string
	FeedURL         string
	FeedStream      string
	Ping            time.Duration
	RESTTimeout     time.Duration
	ListenPort      int
	MetricsPort     int
	AdjustBatchSize int
	AdjustInterval  time.Duration
	TimeBudget      time.Duration
	RetainRows      int
}

type ConfigFile struct {
	Model struct {
		Name           string `yaml:"name"`
		DefinitionPath string `yaml:"definitionPath"`
		TrainCSV       string `yaml:"trainCSV"`
		TimeBudget     string `yaml:"timeBudget"`
	} `yaml:"model"`

	Feed struct {
		URL          string `yaml:"url"`
		Stream       string `yaml:"stream"`
		PingInterval string `yaml:"pingInterval"`
	} `yaml:"feed"`

	Dataset struct {
		BaseURL     string `yaml:"baseURL"`
		RESTTimeout string `yaml:"restTimeout"`
	} `yaml:"dataset"`

	Adjust struct {
		BatchSize  int    `yaml:"batchSize"`
		Interval   string `yaml:"interval"`
		RetainRows int    `yaml:"retainRows"`
	} `yaml:"adjust"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		ListenPort  int    `yaml:"listenPort"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		DataPath:        getEnvOrDefault("DATA_PATH", config.System.DataPath),
		ModelName:       getEnvOrDefault("MODEL_NAME", config.Model.Name),
		DefinitionPath:  getEnvOrDefault("DEFINITION_PATH", config.Model.DefinitionPath),
		TrainCSV:        getEnvOrDefault("TRAIN_CSV", config.Model.TrainCSV),
		DatasetBaseURL:  getEnvOrDefault("DATASET_BASE_URL", config.Dataset.BaseURL),
		FeedURL:         getEnvOrDefault("FEED_URL", config.Feed.URL),
		FeedStream:      getEnvOrDefault("FEED_STREAM", config.Feed.Stream),
		Ping:            parseDurationOrDefault(config.Feed.PingInterval, 15*time.Second),
		RESTTimeout:     parseDurationOrDefault(config.Dataset.RESTTimeout, 5*time.Second),
		ListenPort:      getIntFromEnvOrConfig("LISTEN_PORT", config.System.ListenPort),
		MetricsPort:     getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort),
		AdjustBatchSize: getIntFromEnvOrConfig("ADJUST_BATCH_SIZE", config.Adjust.BatchSize),
		AdjustInterval:  parseDurationOrDefault(config.Adjust.Interval, 30*time.Second),
		TimeBudget:      parseDurationOrDefault(config.Model.TimeBudget, time.Minute),
		RetainRows:      getIntFromEnvOrConfig("RETAIN_ROWS", config.Adjust.RetainRows),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:        os.Getenv("DATA_PATH"), // optional
		ModelName:       getEnvOrDefault("MODEL_NAME", "default"),
		DefinitionPath:  os.Getenv("DEFINITION_PATH"),
		TrainCSV:        os.Getenv("TRAIN_CSV"),
		DatasetBaseURL:  os.Getenv("DATASET_BASE_URL"),
		FeedURL:         os.Getenv("FEED_URL"),
		FeedStream:      getEnvOrDefault("FEED_STREAM", "feedback"),
		Ping:            getDurationOrDefault("PING_INTERVAL", 15*time.Second),
		RESTTimeout:     getDurationOrDefault("REST_TIMEOUT", 5*time.Second),
		ListenPort:      getIntOrDefault("LISTEN_PORT", 8090),
		MetricsPort:     getIntOrDefault("METRICS_PORT", 8080),
		AdjustBatchSize: getIntOrDefault("ADJUST_BATCH_SIZE", 64),
		AdjustInterval:  getDurationOrDefault("ADJUST_INTERVAL", 30*time.Second),
		TimeBudget:      getDurationOrDefault("TIME_BUDGET", time.Minute),
		RetainRows:      getIntOrDefault("RETAIN_ROWS", 2000),
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.ModelName == "" {
		s.ModelName = "default"
	}
	if s.FeedStream == "" {
		s.FeedStream = "feedback"
	}
	if s.ListenPort == 0 {
		s.ListenPort = 8090
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = 8080
	}
	if s.AdjustBatchSize == 0 {
		s.AdjustBatchSize = 64
	}
	if s.RetainRows == 0 {
		s.RetainRows = 2000
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseDurationOrDefault(v string, defaultValue time.Duration) time.Duration {
	if v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return getIntOrDefault(key, 0)
}

// validateSettings performs validation of configuration values
func validateSettings(s *Settings) error {
	if s.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(s.ModelName, "/\\") {
		return fmt.Errorf("model name must not contain path separators, got %q", s.ModelName)
	}

	if s.Ping < time.Second || s.Ping > 5*time.Minute {
		return fmt.Errorf("ping interval must be between 1s and 5m, got %v", s.Ping)
	}
	if s.RESTTimeout < time.Second || s.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", s.RESTTimeout)
	}
	if s.AdjustInterval < time.Second || s.AdjustInterval > time.Hour {
		return fmt.Errorf("adjust interval must be between 1s and 1h, got %v", s.AdjustInterval)
	}
	if s.TimeBudget <= 0 || s.TimeBudget > 24*time.Hour {
		return fmt.Errorf("time budget must be between 0 and 24h, got %v", s.TimeBudget)
	}

	if s.ListenPort < 1024 || s.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", s.ListenPort)
	}
	if s.MetricsPort < 1024 || s.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", s.MetricsPort)
	}
	if s.ListenPort == s.MetricsPort {
		return fmt.Errorf("listen port and metrics port must differ, both are %d", s.ListenPort)
	}

	if s.AdjustBatchSize <= 0 || s.AdjustBatchSize > 100000 {
		return fmt.Errorf("adjust batch size must be between 1 and 100000, got %d", s.AdjustBatchSize)
	}
	if s.RetainRows < 100 || s.RetainRows > 10000000 {
		return fmt.Errorf("retain rows must be between 100 and 10000000, got %d", s.RetainRows)
	}

	return nil
}
