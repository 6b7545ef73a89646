// Package config loads adbd-go's configuration from the environment,
// following the same env-tag-driven reflective unmarshalling the teacher's
// Atlas server uses.
package config

import (
	"fmt"
	"net/netip"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds adbd-go's runtime configuration. The env struct tag contains
// the environment variable name and its default value (after "="), or
// "?=default" if the variable may be explicitly set to an empty string.
type Config struct {
	// The address to listen on for smart-socket connections.
	Addr netip.AddrPort `env:"ADB_SERVER_PORT=:5037"`

	// The minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"ADBD_LOG_LEVEL=info"`

	// Whether to log to stdout.
	LogStdout bool `env:"ADBD_LOG_STDOUT=true"`

	// Whether to use pretty (console) log output.
	LogStdoutPretty bool `env:"ADBD_LOG_STDOUT_PRETTY=false"`

	// The root directory the default filesystem resolves sync paths
	// against. Empty means the process's working directory.
	SyncRoot string `env:"ADBD_SYNC_ROOT"`

	// The address for the optional debug/metrics HTTP server. Empty
	// disables it.
	DebugAddr string `env:"ADBD_DEBUG_ADDR"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment strings into
// c, setting defaults for any var that isn't present.
func (c *Config) UnmarshalEnv(env []string) error {
	em := map[string]string{}
	for _, e := range env {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		tag, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(tag, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
				continue
			}
			v, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("env %s (bool): parse %q: %w", key, val, err)
			}
			cvf.SetBool(v)
		case zerolog.Level:
			v, err := zerolog.ParseLevel(val)
			if err != nil {
				return fmt.Errorf("env %s (log level): parse %q: %w", key, val, err)
			}
			cvf.Set(reflect.ValueOf(v))
		case netip.AddrPort:
			if val == "" {
				cvf.Set(reflect.ValueOf(netip.AddrPort{}))
				continue
			}
			v, err := parseAddrPort(val)
			if err != nil {
				return fmt.Errorf("env %s (addr): parse %q: %w", key, val, err)
			}
			cvf.Set(reflect.ValueOf(v))
		default:
			return fmt.Errorf("config: unhandled field type %T for env %s", cvf.Interface(), key)
		}
	}
	return nil
}

// parseAddrPort parses a host:port pair, defaulting the host to the
// wildcard address when given as a bare ":port", matching the teacher's
// Atlas config parsing.
func parseAddrPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	if strings.HasPrefix(s, ":") {
		return netip.ParseAddrPort("[::]" + s)
	}
	return netip.AddrPort{}, fmt.Errorf("invalid address %q", s)
}
