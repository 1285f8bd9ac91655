// Package config builds the single immutable Config struct the rest of the
// gateway runs from, populated from the environment per spec.md §6. This
// keeps the teacher's Load-from-a-single-source shape (internal/config in
// the teacher parses one YAML file; here the one source is os.Environ).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the gateway's immutable runtime configuration.
type Config struct {
	ServiceMode       string // "single" | "multi"
	ListenAddr        string

	PortalBaseURL      string
	PortalAPIKey       string
	PortalAPIKeyHeader string
	PortalDataset      string
	PortalDatasetMap   map[string]string
	PortalDatasetMapFile string
	UseDefaultDatasets bool
	PortalChainID      int64
	RealtimeMode       string // auto | required | disabled
	MetadataTTL        time.Duration

	MaxLogBlockRange uint64
	MaxLogAddresses  int
	MaxBlockNumber   uint64

	HTTPTimeout      time.Duration
	HandlerTimeout   time.Duration
	MaxConcurrent    int64

	MaxNDJSONLineBytes int
	MaxNDJSONBytes     int
	MaxRequestBodyBytes int64

	WrapperAPIKey       string
	WrapperAPIKeyHeader string

	UpstreamRPCURL          string
	UpstreamRPCURLMap       map[int64]string
	UpstreamMethodsEnabled  bool

	NegotiableFields map[string]bool
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvUint64(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationMs(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func getenvDurationSec(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

// Load reads the process environment into a Config, applying defaults and
// validating the combinations spec.md §6 requires.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceMode:         strings.ToLower(getenv("SERVICE_MODE", "single")),
		ListenAddr:          getenv("SERVICE_LISTEN_ADDR", ":8545"),
		PortalBaseURL:       os.Getenv("PORTAL_BASE_URL"),
		PortalAPIKey:        os.Getenv("PORTAL_API_KEY"),
		PortalAPIKeyHeader:  getenv("PORTAL_API_KEY_HEADER", "X-API-Key"),
		PortalDataset:       os.Getenv("PORTAL_DATASET"),
		PortalDatasetMapFile: os.Getenv("PORTAL_DATASET_MAP_FILE"),
		UseDefaultDatasets:  getenvBool("PORTAL_USE_DEFAULT_DATASETS", false),
		RealtimeMode:        getenv("PORTAL_REALTIME_MODE", "auto"),
		MetadataTTL:         getenvDurationMs("PORTAL_METADATA_TTL_MS", 30*time.Second),

		MaxLogBlockRange: getenvUint64("MAX_LOG_BLOCK_RANGE", 10_000),
		MaxLogAddresses:  getenvInt("MAX_LOG_ADDRESSES", 50),
		MaxBlockNumber:   getenvUint64("MAX_BLOCK_NUMBER", 1<<53-1),

		HTTPTimeout:    getenvDurationSec("HTTP_TIMEOUT", 60*time.Second),
		HandlerTimeout: getenvDurationMs("HANDLER_TIMEOUT_MS", 55*time.Second),
		MaxConcurrent:  getenvInt64("MAX_CONCURRENT_REQUESTS", 64),

		MaxNDJSONLineBytes:  getenvInt("MAX_NDJSON_LINE_BYTES", 8*1024*1024),
		MaxNDJSONBytes:      getenvInt("MAX_NDJSON_BYTES", 256*1024*1024),
		MaxRequestBodyBytes: int64(getenvInt("MAX_REQUEST_BODY_BYTES", 8*1024*1024)),

		WrapperAPIKey:       os.Getenv("WRAPPER_API_KEY"),
		WrapperAPIKeyHeader: getenv("WRAPPER_API_KEY_HEADER", "X-API-Key"),

		UpstreamRPCURL:         os.Getenv("UPSTREAM_RPC_URL"),
		UpstreamMethodsEnabled: getenvBool("UPSTREAM_METHODS_ENABLED", false),
	}

	if cfg.ServiceMode != "single" && cfg.ServiceMode != "multi" {
		return nil, fmt.Errorf("SERVICE_MODE must be \"single\" or \"multi\", got %q", cfg.ServiceMode)
	}

	if chainIDStr := firstNonEmpty(os.Getenv("PORTAL_CHAIN_ID"), os.Getenv("CHAIN_ID")); chainIDStr != "" {
		n, err := strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PORTAL_CHAIN_ID/CHAIN_ID %q: %w", chainIDStr, err)
		}
		cfg.PortalChainID = n
	}

	if m := os.Getenv("PORTAL_DATASET_MAP"); m != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(m), &parsed); err != nil {
			return nil, fmt.Errorf("invalid PORTAL_DATASET_MAP: %w", err)
		}
		cfg.PortalDatasetMap = parsed
	}

	if m := os.Getenv("UPSTREAM_RPC_URL_MAP"); m != "" {
		var raw map[string]string
		if err := json.Unmarshal([]byte(m), &raw); err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_RPC_URL_MAP: %w", err)
		}
		cfg.UpstreamRPCURLMap = make(map[int64]string, len(raw))
		for k, v := range raw {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid chain id %q in UPSTREAM_RPC_URL_MAP: %w", k, err)
			}
			cfg.UpstreamRPCURLMap[id] = v
		}
	}

	cfg.NegotiableFields = map[string]bool{"authorizationList": true}
	if extra := os.Getenv("PORTAL_NEGOTIABLE_FIELDS"); extra != "" {
		for _, f := range strings.Split(extra, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				cfg.NegotiableFields[f] = true
			}
		}
	}

	if cfg.ServiceMode == "single" && cfg.PortalDataset == "" {
		return nil, fmt.Errorf("PORTAL_DATASET is required in single mode")
	}
	if cfg.PortalBaseURL == "" {
		return nil, fmt.Errorf("PORTAL_BASE_URL is required")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
