package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for one client daemon
// (fulfiller or requester). Values are primarily loaded from
// environment variables with sane defaults so the binary can run
// locally without excessive setup.
type ClientConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PartyID   string
	PartyName string

	ChannelURL           string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	AuthorityURL   string
	AuthorityToken string

	// osrm or google; empty disables the routing collaborator and the
	// ranker runs on the great-circle fallback only.
	RoutingBackend string
	OSRMBaseURL    string
	GoogleAPIKey   string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StripeKey      string
	StripeCurrency string
	StripeCustomer string

	ArrivalRadiusM     float64
	DestinationRadiusM float64
	StandstillSpeedKmh float64
	TriggerDebounce    time.Duration

	PrefilterRadiusM float64
	FallbackSpeedMps float64

	LogLevel      string
	RunMigrations bool
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		OSRMBaseURL:          "http://localhost:5000",
		RedisGeoKey:          "candidates_geo",
		KafkaTopic:           "location-fixes",
		StripeCurrency:       "usd",
		ArrivalRadiusM:       50,
		DestinationRadiusM:   100,
		StandstillSpeedKmh:   5,
		TriggerDebounce:      3 * time.Second,
		PrefilterRadiusM:     10000,
		FallbackSpeedMps:     10,
		LogLevel:             "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.PartyID, "PARTY_ID")
	setStringFromEnv(&cfg.PartyName, "PARTY_NAME")

	setStringFromEnv(&cfg.ChannelURL, "CHANNEL_URL")
	setDurationFromEnv(&cfg.ReconnectDelay, "CHANNEL_RECONNECT_DELAY", &errs)
	setIntFromEnv(&cfg.MaxReconnectAttempts, "CHANNEL_RECONNECT_ATTEMPTS", &errs)

	setStringFromEnv(&cfg.AuthorityURL, "AUTHORITY_URL")
	cfg.AuthorityToken = os.Getenv("AUTHORITY_TOKEN")

	if v := os.Getenv("ROUTING_BACKEND"); v != "" {
		cfg.RoutingBackend = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.OSRMBaseURL, "OSRM_BASE_URL")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.StripeKey = os.Getenv("STRIPE_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")
	setStringFromEnv(&cfg.StripeCustomer, "STRIPE_CUSTOMER")

	setFloatFromEnv(&cfg.ArrivalRadiusM, "ARRIVAL_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.DestinationRadiusM, "DESTINATION_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.StandstillSpeedKmh, "STANDSTILL_SPEED_KMH", &errs)
	setDurationFromEnv(&cfg.TriggerDebounce, "TRIGGER_DEBOUNCE", &errs)

	setFloatFromEnv(&cfg.PrefilterRadiusM, "PREFILTER_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.FallbackSpeedMps, "FALLBACK_SPEED_MPS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.RoutingBackend {
	case "", "osrm", "google":
	default:
		errs = append(errs, fmt.Errorf("ROUTING_BACKEND must be osrm or google, got %q", cfg.RoutingBackend))
	}
	if cfg.RoutingBackend == "google" && cfg.GoogleAPIKey == "" {
		errs = append(errs, fmt.Errorf("GOOGLE_MAPS_API_KEY required when ROUTING_BACKEND=google"))
	}
	if cfg.MaxReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CHANNEL_RECONNECT_ATTEMPTS must be > 0"))
	}
	if cfg.PrefilterRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("PREFILTER_RADIUS_M must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
