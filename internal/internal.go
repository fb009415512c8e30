package internal

import (
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

const (
	LOG_LEVEL_DEBUG      = "log_level_debug"
	LOG_LEVEL_TRACE      = "log_level_trace"
	LOG_LEVEL_MQTT_TRACE = "log_level_mqtt_trace"
)

// SetLogLevel configures the global zerolog level from the environment.
func SetLogLevel() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch {
	case GetBool(LOG_LEVEL_TRACE, false):
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case GetBool(LOG_LEVEL_DEBUG, false):
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func Duration(d time.Duration, dicimal int) time.Duration {
	shift := int(math.Pow10(dicimal))

	units := []time.Duration{time.Second, time.Millisecond, time.Microsecond, time.Nanosecond}
	for _, u := range units {
		if d > u {
			div := u / time.Duration(shift)
			if div == 0 {
				break
			}
			d = d / div * div
			break
		}
	}
	return d
}

func XID() string {
	return xid.New().String()
}

// FIXME move this to stdlib
func GetBool(env string, def bool) bool {
	e, ok := os.LookupEnv(env)
	if !ok {
		return def
	}

	e = strings.ToLower(e)
	if e == "true" || e == "yes" || e == "1" {
		return true
	}
	return false
}
