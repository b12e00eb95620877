// Package config holds the runtime configuration for mcscan, loaded from the
// environment the same way atlas does it: a struct with env tags, populated
// by reflection so adding a setting never requires touching a parser.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the full set of environment-driven settings for mcscan. The env
// tag contains the environment variable name and, after an "=", the default
// value if missing; with no "=", the default is empty.
type Config struct {
	// Path to the CIDR exclusion list consumed by internal/exclude.
	ExcludeFile string `env:"MCSCAN_EXCLUDE_FILE=exclude.txt"`

	// Path to the sqlite3 database used as the persistence sink.
	DB string `env:"MCSCAN_DB=mcscan.db"`

	// Target number of concurrent outbound connections (N in spec.md §4.3).
	Concurrency int `env:"MCSCAN_CONCURRENCY=4000"`

	// Fixed local port all outbound sockets bind to.
	LocalPort int `env:"MCSCAN_LOCAL_PORT=12345"`

	// Fixed remote port every target is probed on.
	TargetPort int `env:"MCSCAN_TARGET_PORT=25565"`

	// Minimum log level.
	LogLevel zerolog.Level `env:"MCSCAN_LOG_LEVEL=info"`

	// Whether to use pretty (console) log output instead of JSON lines.
	LogStdoutPretty bool `env:"MCSCAN_LOG_STDOUT_PRETTY=true"`

	// Path prefix for gzip-compressed progress snapshots. Disabled if empty.
	StatusLog string `env:"MCSCAN_STATUS_LOG"`

	// Interval between progress snapshots.
	StatusInterval time.Duration `env:"MCSCAN_STATUS_INTERVAL=10s"`

	// Listen address for the debug HTTP server (Prometheus metrics + pprof).
	// Disabled if empty.
	MetricsAddr string `env:"MCSCAN_METRICS_ADDR"`

	// Path to an IP2Location-format database for responder geo metrics.
	// Disabled if empty.
	GeoIPDB string `env:"MCSCAN_GEOIP_DB"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment lines into c,
// setting default values for anything missing.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "MCSCAN_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
