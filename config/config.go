package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Environment string

	// StatusPort is the local status API port. Empty disables it.
	StatusPort     string
	AllowedOrigins []string

	// OperatorSecret signs operator tokens for control endpoints. Empty
	// leaves them open.
	OperatorSecret string

	// PublishVideo adds an H264 track next to the microphone.
	PublishVideo bool

	LiveKit   LiveKitConfig
	Ultravox  UltravoxConfig
	Timing    TimingConfig
	Redis     RedisConfig
	ICEServer []webrtc.ICEServer
}

type LiveKitConfig struct {
	URL             string
	Token           string
	ProtocolVersion int
	TrackName       string
}

type UltravoxConfig struct {
	APIURL       string
	APIKey       string
	SystemPrompt string
	Voice        string
}

type TimingConfig struct {
	SignalingInterval      time.Duration
	SubscriberPumpInterval time.Duration
	PublisherPumpInterval  time.Duration
	RejoinDelay            time.Duration
}

// RedisConfig configures fleet status reporting. An empty Host disables it.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	StatusKey      string
	ReportInterval time.Duration
}

// Load reads the configuration from the environment. Variables in envFile,
// if it exists, are loaded first without overriding the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	var errs []string
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	integer := func(key string, def int) int {
		n, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}

	// Parse allowed origins (comma-separated)
	var origins []string
	for _, origin := range strings.Split(getEnv("STATUS_ALLOWED_ORIGINS", ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		StatusPort:     getEnv("STATUS_PORT", ""),
		AllowedOrigins: origins,
		OperatorSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		PublishVideo:   getEnv("PUBLISH_VIDEO", "") == "true",
		LiveKit: LiveKitConfig{
			URL:             getEnv("LIVEKIT_URL", ""),
			Token:           getEnv("LIVEKIT_TOKEN", ""),
			ProtocolVersion: integer("LIVEKIT_PROTOCOL", 9),
			TrackName:       getEnv("TRACK_NAME", "microphone"),
		},
		Ultravox: UltravoxConfig{
			APIURL:       getEnv("ULTRAVOX_API_URL", "https://api.ultravox.ai/api"),
			APIKey:       getEnv("ULTRAVOX_API_KEY", ""),
			SystemPrompt: getEnv("SYSTEM_PROMPT", "You are a friendly voice assistant."),
			Voice:        getEnv("VOICE", ""),
		},
		Timing: TimingConfig{
			SignalingInterval:      duration("SIGNALING_INTERVAL", 200*time.Millisecond),
			SubscriberPumpInterval: duration("SUBSCRIBER_PUMP_INTERVAL", time.Millisecond),
			PublisherPumpInterval:  duration("PUBLISHER_PUMP_INTERVAL", 20*time.Millisecond),
			RejoinDelay:            duration("REJOIN_DELAY", time.Second),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", ""),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             integer("REDIS_DB", 0),
			StatusKey:      getEnv("STATUS_KEY", "device:status"),
			ReportInterval: duration("STATUS_REPORT_INTERVAL", 5*time.Second),
		},
		ICEServer: parseICEServers(getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302")),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// HasRoom reports whether room credentials are configured directly.
func (c *Config) HasRoom() bool {
	return c.LiveKit.URL != "" && c.LiveKit.Token != ""
}

// parseICEServers splits a "|" separated list of STUN urls.
func parseICEServers(value string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, url := range strings.Split(value, "|") {
		if url = strings.TrimSpace(url); url != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
		}
	}
	return servers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}
