// Package config centralises runtime configuration for venuelink services.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Venue names a supported exchange integration.
type Venue string

const (
	// VenueBybit represents the Bybit integration key.
	VenueBybit Venue = "bybit"
	// VenueOKX represents the OKX integration key.
	VenueOKX Venue = "okx"
)

// Credentials captures API credentials used for authenticated requests.
// Values are only ever sourced from the environment, never from files.
type Credentials struct {
	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	Passphrase string `yaml:"-"`
}

// WebsocketSettings configures websocket endpoints per venue.
type WebsocketSettings struct {
	PublicURL  string `yaml:"publicUrl"`
	PrivateURL string `yaml:"privateUrl"`
}

// VenueSettings aggregates transport and credential configuration.
type VenueSettings struct {
	RESTBaseURL string            `yaml:"restBaseUrl"`
	Websocket   WebsocketSettings `yaml:"websocket"`
	Credentials Credentials       `yaml:"-"`
	HTTPTimeout time.Duration     `yaml:"httpTimeout"`
}

// StreamSettings declares one subscription raised at startup.
type StreamSettings struct {
	Venue     Venue  `yaml:"venue"`
	Channel   string `yaml:"channel"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

// RiskSettings bound the order submission path.
type RiskSettings struct {
	MaxOrderQty   string  `yaml:"maxOrderQty"`
	MaxNotional   string  `yaml:"maxNotional"`
	OrderThrottle float64 `yaml:"orderThrottle"`
}

// LogSettings configure the structured logger.
type LogSettings struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// TelemetrySettings configure the metrics exporter.
type TelemetrySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Settings contains the configuration tree loaded from defaults, an optional
// yaml file and environment overrides, in that order.
type Settings struct {
	Environment Environment             `yaml:"environment"`
	Venues      map[Venue]VenueSettings `yaml:"venues"`
	Streams     []StreamSettings        `yaml:"streams"`
	Risk        RiskSettings            `yaml:"risk"`
	Log         LogSettings             `yaml:"log"`
	Telemetry   TelemetrySettings       `yaml:"telemetry"`
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Venues: map[Venue]VenueSettings{
			VenueBybit: {
				RESTBaseURL: "https://api.bybit.com",
				Websocket: WebsocketSettings{
					PublicURL:  "wss://stream.bybit.com/v5/public/spot",
					PrivateURL: "wss://stream.bybit.com/v5/private",
				},
				HTTPTimeout: 10 * time.Second,
			},
			VenueOKX: {
				RESTBaseURL: "https://www.okx.com",
				Websocket: WebsocketSettings{
					PublicURL:  "wss://ws.okx.com:8443/ws/v5/public",
					PrivateURL: "wss://ws.okx.com:8443/ws/v5/private",
				},
				HTTPTimeout: 10 * time.Second,
			},
		},
		Risk: RiskSettings{
			MaxOrderQty:   "100",
			MaxNotional:   "250000",
			OrderThrottle: 5,
		},
		Log: LogSettings{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding
// the given settings. Credentials are only ever read here.
func FromEnv(cfg Settings) Settings {
	if env := strings.TrimSpace(os.Getenv("VENUELINK_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if cfg.Venues == nil {
		cfg.Venues = make(map[Venue]VenueSettings)
	}

	for _, venue := range []Venue{VenueBybit, VenueOKX} {
		settings := cfg.Venues[venue]
		prefix := strings.ToUpper(string(venue))

		if v := strings.TrimSpace(os.Getenv(prefix + "_REST_BASE_URL")); v != "" {
			settings.RESTBaseURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_WS_PUBLIC_URL")); v != "" {
			settings.Websocket.PublicURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_WS_PRIVATE_URL")); v != "" {
			settings.Websocket.PrivateURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_HTTP_TIMEOUT")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.HTTPTimeout = dur
			}
		}
		settings.Credentials = Credentials{
			APIKey:     strings.TrimSpace(os.Getenv(prefix + "_API_KEY")),
			APISecret:  strings.TrimSpace(os.Getenv(prefix + "_API_SECRET")),
			Passphrase: strings.TrimSpace(os.Getenv(prefix + "_API_PASSPHRASE")),
		}
		cfg.Venues[venue] = settings
	}

	if v := strings.TrimSpace(os.Getenv("VENUELINK_LOG_LEVEL")); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("VENUELINK_LOG_FILE")); v != "" {
		cfg.Log.File = v
	}
	if v := strings.TrimSpace(os.Getenv("VENUELINK_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}

	return cfg
}
