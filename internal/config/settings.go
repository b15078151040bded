package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings holds the runtime configuration for the sentinel process, read from
// the environment with a SENTINEL_ prefix.
type Settings struct {
	// APIAddr is the listen address for the status API.
	APIAddr string

	// BackendURL is the crawl backend's base URL.
	BackendURL string

	// PushMode selects the push channel implementation: "websocket", "kafka"
	// or "memory".
	PushMode string

	// WebsocketURL is the push endpoint when PushMode is "websocket".
	WebsocketURL string

	// Kafka settings, used when PushMode is "kafka".
	KafkaBrokers       []string
	KafkaCrawlTopic    string
	KafkaJobStateTopic string
	KafkaGroupID       string

	// SourcesFile is the path to the yaml source definitions.
	SourcesFile string

	// PollInterval is the job status poll cadence.
	PollInterval time.Duration

	// SchedulerPollInterval is the scheduler status poll cadence.
	SchedulerPollInterval time.Duration

	// RequestsPerSecond and RequestBurst bound outbound backend requests.
	RequestsPerSecond float64
	RequestBurst      int
}

const (
	PushModeWebsocket = "websocket"
	PushModeKafka     = "kafka"
	PushModeMemory    = "memory"
)

// LoadSettings reads runtime settings from the environment. Every value has a
// default suitable for local development against a backend on localhost.
func LoadSettings() (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	v.SetDefault("api_addr", ":8080")
	v.SetDefault("backend_url", "http://localhost:8000")
	v.SetDefault("push_mode", PushModeWebsocket)
	v.SetDefault("websocket_url", "ws://localhost:8000/ws/status")
	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_crawl_topic", "crawl-events")
	v.SetDefault("kafka_job_state_topic", "")
	v.SetDefault("kafka_group_id", "crawl-sentinel")
	v.SetDefault("sources_file", "sources.yaml")
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("scheduler_poll_interval", 10*time.Second)
	v.SetDefault("requests_per_second", 10.0)
	v.SetDefault("request_burst", 5)

	s := Settings{
		APIAddr:               v.GetString("api_addr"),
		BackendURL:            v.GetString("backend_url"),
		PushMode:              v.GetString("push_mode"),
		WebsocketURL:          v.GetString("websocket_url"),
		KafkaBrokers:          v.GetStringSlice("kafka_brokers"),
		KafkaCrawlTopic:       v.GetString("kafka_crawl_topic"),
		KafkaJobStateTopic:    v.GetString("kafka_job_state_topic"),
		KafkaGroupID:          v.GetString("kafka_group_id"),
		SourcesFile:           v.GetString("sources_file"),
		PollInterval:          v.GetDuration("poll_interval"),
		SchedulerPollInterval: v.GetDuration("scheduler_poll_interval"),
		RequestsPerSecond:     v.GetFloat64("requests_per_second"),
		RequestBurst:          v.GetInt("request_burst"),
	}

	switch s.PushMode {
	case PushModeWebsocket, PushModeKafka, PushModeMemory:
	default:
		return Settings{}, fmt.Errorf("invalid push mode %q", s.PushMode)
	}
	if s.BackendURL == "" {
		return Settings{}, fmt.Errorf("backend url must not be empty")
	}

	return s, nil
}
