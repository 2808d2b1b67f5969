// Package cfg loads service configuration from a YAML file selected by
// CONFIG_FILE, with environment variables overriding individual knobs,
// falling back to environment-only configuration.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	TelemetryPath    string
	AnomaliesPath    string
	DataPath         string // archive directory, empty disables archiving
	WebhookURL       string // critical-anomaly webhook, empty disables
	WebhookTimeout   time.Duration
	PollInterval     time.Duration
	ErrorBackoff     time.Duration
	Contamination    float64
	Estimators       int
	Seed             int64
	RetrainThreshold int
	MaxBufferSize    int // training buffer cap, 0 = unbounded
	MetricsPort      int
	LogLevel         string
}

type ConfigFile struct {
	Telemetry struct {
		Path         string `yaml:"path"`
		PollInterval string `yaml:"pollInterval"`
		ErrorBackoff string `yaml:"errorBackoff"`
	} `yaml:"telemetry"`

	Detection struct {
		Contamination    float64 `yaml:"contamination"`
		Estimators       int     `yaml:"estimators"`
		Seed             *int64  `yaml:"seed"` // pointer so an explicit 0 is honored
		RetrainThreshold int     `yaml:"retrainThreshold"`
		MaxBufferSize    int     `yaml:"maxBufferSize"`
	} `yaml:"detection"`

	Output struct {
		AnomaliesPath  string `yaml:"anomaliesPath"`
		WebhookURL     string `yaml:"webhookURL"`
		WebhookTimeout string `yaml:"webhookTimeout"`
	} `yaml:"output"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
		LogLevel    string `yaml:"logLevel"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	settings := loadFromEnv()
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
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
		TelemetryPath:    getEnvOrDefault("TELEMETRY_PATH", orString(config.Telemetry.Path, "telemetry.jsonl")),
		AnomaliesPath:    getEnvOrDefault("ANOMALIES_PATH", orString(config.Output.AnomaliesPath, "anomalies.json")),
		DataPath:         getEnvOrDefault("DATA_PATH", config.System.DataPath),
		WebhookURL:       getEnvOrDefault("WEBHOOK_URL", config.Output.WebhookURL),
		WebhookTimeout:   durationOrDefault(config.Output.WebhookTimeout, 5*time.Second),
		PollInterval:     durationOrDefault(config.Telemetry.PollInterval, 2*time.Second),
		ErrorBackoff:     durationOrDefault(config.Telemetry.ErrorBackoff, 5*time.Second),
		Contamination:    getFloatFromEnvOrConfig("CONTAMINATION", config.Detection.Contamination, 0.05),
		Estimators:       getIntFromEnvOrConfig("ESTIMATORS", config.Detection.Estimators, 100),
		Seed:             getSeedFromEnvOrConfig("MODEL_SEED", config.Detection.Seed, 42),
		RetrainThreshold: getIntFromEnvOrConfig("RETRAIN_THRESHOLD", config.Detection.RetrainThreshold, 10),
		MaxBufferSize:    getIntFromEnvOrConfig("MAX_BUFFER_SIZE", config.Detection.MaxBufferSize, 0),
		MetricsPort:      getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort, 8080),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", orString(config.System.LogLevel, "info")),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() Settings {
	return Settings{
		TelemetryPath:    getEnvOrDefault("TELEMETRY_PATH", "telemetry.jsonl"),
		AnomaliesPath:    getEnvOrDefault("ANOMALIES_PATH", "anomalies.json"),
		DataPath:         os.Getenv("DATA_PATH"), // optional
		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		WebhookTimeout:   getDurationOrDefault("WEBHOOK_TIMEOUT", 5*time.Second),
		PollInterval:     getDurationOrDefault("POLL_INTERVAL", 2*time.Second),
		ErrorBackoff:     getDurationOrDefault("ERROR_BACKOFF", 5*time.Second),
		Contamination:    getFloatOrDefault("CONTAMINATION", 0.05),
		Estimators:       getIntOrDefault("ESTIMATORS", 100),
		Seed:             int64(getIntOrDefault("MODEL_SEED", 42)),
		RetrainThreshold: getIntOrDefault("RETRAIN_THRESHOLD", 10),
		MaxBufferSize:    getIntOrDefault("MAX_BUFFER_SIZE", 0),
		MetricsPort:      getIntOrDefault("METRICS_PORT", 8080),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
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

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// getSeedFromEnvOrConfig takes the file value as a pointer: unlike the
// other numeric knobs, 0 is a legitimate seed and must not fall through
// to the default.
func getSeedFromEnvOrConfig(key string, configValue *int64, defaultValue int64) int64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != nil {
		return *configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func durationOrDefault(v string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func validateSettings(settings *Settings) error {
	if settings.TelemetryPath == "" {
		return fmt.Errorf("telemetry path cannot be empty")
	}
	if settings.AnomaliesPath == "" {
		return fmt.Errorf("anomalies path cannot be empty")
	}
	if settings.Contamination <= 0 || settings.Contamination > 0.5 {
		return fmt.Errorf("contamination must be between 0 and 0.5, got %f", settings.Contamination)
	}
	if settings.Estimators <= 0 || settings.Estimators > 1000 {
		return fmt.Errorf("estimators must be between 1 and 1000, got %d", settings.Estimators)
	}
	if settings.RetrainThreshold <= 0 || settings.RetrainThreshold > 1000 {
		return fmt.Errorf("retrain threshold must be between 1 and 1000, got %d", settings.RetrainThreshold)
	}
	if settings.MaxBufferSize != 0 && settings.MaxBufferSize < 120 {
		return fmt.Errorf("max buffer size must be 0 (unbounded) or at least 120, got %d", settings.MaxBufferSize)
	}
	if settings.PollInterval < 100*time.Millisecond || settings.PollInterval > time.Hour {
		return fmt.Errorf("poll interval must be between 100ms and 1h, got %v", settings.PollInterval)
	}
	if settings.ErrorBackoff < settings.PollInterval {
		return fmt.Errorf("error backoff must not be shorter than the poll interval")
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	return nil
}
