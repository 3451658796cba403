package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/devicehub/sdk-go/pkg/platform"
)

// Config is everything the devicehub services read from the environment.
type Config struct {
	BaseURL   string
	AccessKey string
	Format    platform.Format
	// Payloads are base64 encoded gzip
	Gzip bool

	QueueURL    string
	BatchSize   int
	WaitSeconds int32
	Sort        bool

	ArchiveBucket string
	ArchivePrefix string

	KafkaBrokers   []string
	KafkaTopic     string
	RabbitURL      string
	RabbitExchange string
	DatabaseURL    string

	HTTPAddr string
}

// Load reads the configuration from the environment. Values that are present but invalid are errors.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		AccessKey:      getenv("DEVICEHUB_ACCESS_KEY"),
		QueueURL:       getenv("DEVICEHUB_QUEUE_URL"),
		ArchiveBucket:  getenv("DEVICEHUB_ARCHIVE_BUCKET"),
		ArchivePrefix:  strings.Trim(getenv("DEVICEHUB_ARCHIVE_PREFIX"), "/"),
		KafkaBrokers:   splitList(getenv("KAFKA_BROKERS")),
		KafkaTopic:     orDefault(getenv("KAFKA_TOPIC"), "devicehub-events"),
		RabbitURL:      getenv("RABBIT_URL"),
		RabbitExchange: orDefault(getenv("RABBIT_EXCHANGE"), "devicehub.events"),
		DatabaseURL:    getenv("DATABASE_URL"),
		HTTPAddr:       orDefault(getenv("HTTP_ADDR"), ":8000"),
	}

	var err error
	if raw := getenv("DEVICEHUB_URL"); raw != "" {
		cfg.BaseURL, err = platform.NormalizeBaseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("DEVICEHUB_URL: %w", err)
		}
	}

	cfg.Format, err = platform.ParseFormat(getenv("DEVICEHUB_FORMAT"))
	if err != nil {
		return nil, fmt.Errorf("DEVICEHUB_FORMAT: %w", err)
	}

	if cfg.Gzip, err = parseBool(getenv, "DEVICEHUB_GZIP", false); err != nil {
		return nil, err
	}
	if cfg.Sort, err = parseBool(getenv, "DEVICEHUB_SORT", false); err != nil {
		return nil, err
	}

	batch, err := parseInt(getenv, "DEVICEHUB_BATCH_SIZE", 10, 1, 10)
	if err != nil {
		return nil, err
	}
	cfg.BatchSize = batch

	wait, err := parseInt(getenv, "DEVICEHUB_WAIT_SECONDS", 20, 0, 20)
	if err != nil {
		return nil, err
	}
	cfg.WaitSeconds = int32(wait)

	return cfg, nil
}

func orDefault(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(getenv func(string) string, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return value, nil
}

func parseInt(getenv func(string) string, key string, fallback int, lo int, hi int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	if value < lo || value > hi {
		return 0, fmt.Errorf("%s: %d is outside %d-%d", key, value, lo, hi)
	}
	return value, nil
}
