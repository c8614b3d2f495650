package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rental-admin-sync/middleware/coordination"
	"rental-admin-sync/middleware/coordination/infra"
)

const envPrefix = "SYNCWATCH"

type config struct {
	backendURL   string
	pathTemplate string
	authToken    string
	resourceIDs  []string
	known        map[string]time.Time

	interval      time.Duration
	batchInterval time.Duration
	maxIDs        int

	maxConcurrent int
	delayBetween  time.Duration

	rateEnabled     bool
	rateRPS         float64
	rateBurst       int
	rateKeyHeader   string
	throttleMaxWait time.Duration

	http2              bool
	insecureSkipVerify bool
	httpTimeout        time.Duration
	readyTimeout       time.Duration

	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool

	metricsAddr string
	logLevel    string
}

func addWatchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-url", "", "Base URL of the rental backend (required)")
	f.String("path-template", infra.DefaultPathTemplate, "Timestamp endpoint path; {id} is replaced by the resource id")
	f.String("auth-token", "", "Bearer token sent to the backend")
	f.StringSlice("resources", nil, "Resource ids to watch (one id = single monitor, more = batch)")
	f.StringSlice("known", nil, "Known timestamps as id=epochMillis or id=RFC3339")

	f.Duration("interval", coordination.DefaultMonitorInterval, "Polling interval for a single resource")
	f.Duration("batch-interval", coordination.DefaultBatchInterval, "Polling interval for batches")
	f.Int("max-ids", coordination.DefaultMaxIDs, "Maximum ids checked per batch round")

	f.Int("max-concurrent", infra.DefaultMaxConcurrent, "Maximum outbound requests in flight")
	f.Duration("delay-between", infra.DefaultDelayBetween, "Pacing delay between request starts")

	f.Bool("rate-enabled", true, "Enable per-host outbound token bucket")
	f.Float64("rate-rps", 10, "Outbound requests per second per key")
	f.Int("rate-burst", 0, "Token bucket burst (0 = automatic)")
	f.String("rate-key-header", "", "Request header used as throttle key (default: host)")
	f.Duration("throttle-max-wait", 5*time.Second, "Max wait for a token (0 = until request deadline, <0 = never wait)")

	f.Bool("http2", true, "Use HTTP/2 towards the backend")
	f.Bool("insecure-skip-verify", false, "Skip TLS verification (development only)")
	f.Duration("http-timeout", infra.DefaultHTTPTimeout, "Per-request HTTP timeout")
	f.Duration("ready-timeout", 30*time.Second, "How long to retry the first backend check (0 = skip)")

	f.String("stats-redis-addr", "", "Redis address for stats (empty = disabled)")
	f.String("stats-redis-password", "", "Redis password")
	f.Int("stats-redis-db", 0, "Redis DB")
	f.String("stats-prefix", "coordination:stats", "Redis key prefix for stats")
	f.Duration("stats-ttl", 24*time.Hour, "TTL of stats buckets")
	f.String("stats-bucket", "minute", "Stats bucket granularity (minute or none)")
	f.Bool("stats-track-keys", false, "Also count stats per resource id")

	f.String("metrics-addr", "", "Address to serve Prometheus /metrics (empty = disabled)")
}

// newViper liga as flags do comando às variáveis SYNCWATCH_* (ex: SYNCWATCH_MAX_CONCURRENT).
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("bind inherited flags: %w", err)
	}
	return v, nil
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{}
	cfg.backendURL = strings.TrimSpace(v.GetString("backend-url"))
	cfg.pathTemplate = v.GetString("path-template")
	cfg.authToken = v.GetString("auth-token")
	cfg.resourceIDs = splitList(v.GetStringSlice("resources"))

	known, err := parseKnown(splitList(v.GetStringSlice("known")))
	if err != nil {
		return config{}, err
	}
	cfg.known = known

	cfg.interval = v.GetDuration("interval")
	cfg.batchInterval = v.GetDuration("batch-interval")
	cfg.maxIDs = v.GetInt("max-ids")
	cfg.maxConcurrent = v.GetInt("max-concurrent")
	cfg.delayBetween = v.GetDuration("delay-between")

	cfg.rateEnabled = v.GetBool("rate-enabled")
	cfg.rateRPS = v.GetFloat64("rate-rps")
	// IMPORTANTE: o burst permite uma rajada inicial. Com RPS abaixo de 1 um burst
	// alto faz parecer que o limiter não funciona, então o automático cai para 1.
	cfg.rateBurst = v.GetInt("rate-burst")
	if cfg.rateBurst == 0 {
		cfg.rateBurst = 20
		if cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.rateKeyHeader = v.GetString("rate-key-header")
	cfg.throttleMaxWait = v.GetDuration("throttle-max-wait")

	cfg.http2 = v.GetBool("http2")
	cfg.insecureSkipVerify = v.GetBool("insecure-skip-verify")
	cfg.httpTimeout = v.GetDuration("http-timeout")
	cfg.readyTimeout = v.GetDuration("ready-timeout")

	cfg.statsRedisAddr = strings.TrimSpace(v.GetString("stats-redis-addr"))
	cfg.statsRedisPassword = v.GetString("stats-redis-password")
	cfg.statsRedisDB = v.GetInt("stats-redis-db")
	cfg.statsPrefix = v.GetString("stats-prefix")
	cfg.statsTTL = v.GetDuration("stats-ttl")
	cfg.statsBucket = v.GetString("stats-bucket")
	cfg.statsTrackKeys = v.GetBool("stats-track-keys")

	cfg.metricsAddr = strings.TrimSpace(v.GetString("metrics-addr"))
	cfg.logLevel = v.GetString("log-level")

	if cfg.backendURL == "" {
		return config{}, errors.New("backend-url is required")
	}
	if len(cfg.resourceIDs) == 0 {
		return config{}, errors.New("at least one resource id is required")
	}
	if cfg.interval <= 0 || cfg.batchInterval <= 0 {
		return config{}, errors.New("interval and batch-interval must be > 0")
	}
	if cfg.maxIDs <= 0 {
		return config{}, errors.New("max-ids must be > 0")
	}
	if cfg.maxConcurrent <= 0 {
		return config{}, errors.New("max-concurrent must be > 0")
	}
	if cfg.delayBetween < 0 {
		return config{}, errors.New("delay-between must be >= 0")
	}
	if cfg.rateEnabled && cfg.rateRPS <= 0 {
		return config{}, errors.New("rate-rps must be > 0")
	}
	if cfg.rateBurst < 0 {
		return config{}, errors.New("rate-burst must be >= 0")
	}
	return cfg, nil
}

// splitList aceita tanto flags repetidas quanto listas separadas por vírgula vindas do ambiente.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseKnown(entries []string) (map[string]time.Time, error) {
	known := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		id, raw, ok := strings.Cut(e, "=")
		id, raw = strings.TrimSpace(id), strings.TrimSpace(raw)
		if !ok || id == "" || raw == "" {
			return nil, fmt.Errorf("invalid known entry %q: expected id=timestamp", e)
		}
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			known[id] = time.UnixMilli(millis)
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid known timestamp for %s: %w", id, err)
		}
		known[id] = t
	}
	return known, nil
}
