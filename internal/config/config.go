package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/sshdeck.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/sshdeck.log"`

	// SSH settings
	ConnectTimeout string `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	// KnownHostPolicy is "accept-new" (record a host's key on first contact,
	// reject a different key later) or "strict" (also reject hosts that have
	// no recorded key yet).
	KnownHostPolicy string `envconfig:"KNOWN_HOST_POLICY" default:"accept-new"`

	// Session settings
	LatencyProbeSchedule string `envconfig:"LATENCY_PROBE_SCHEDULE" default:"@every 30s"`
	ReconnectMaxRetries  int    `envconfig:"RECONNECT_MAX_RETRIES" default:"10"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SSHDECK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// ConnectTimeoutDuration parses the configured connect timeout, falling back
// to 30 seconds on a malformed value.
func ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(Cfg.ConnectTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
