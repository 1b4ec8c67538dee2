package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"

	"github.com/mrchypark/dotori"
	"github.com/mrchypark/dotori/pkg/server"
)

const (
	cacheCategory   = "CACHE"
	httpCategory    = "HTTP"
	loggingCategory = "LOGGING"
)

// Flag names. appFlags builds fresh flag structs on every call since
// urfave/cli stores parsed environment values in them.
const (
	maxKeySizeFlag         = "cache.max-key-size"
	maxValueSizeFlag       = "cache.max-value-size"
	maxValueBlockCountFlag = "cache.max-value-block-count"
	keyOverflowFlag        = "cache.key-overflow"
	valueOverflowFlag      = "cache.value-overflow"
	addrFlag               = "http.addr"
	corsFlag               = "http.cors-origins"
	shutdownTimeoutFlag    = "http.shutdown-timeout"
	maxBodyBytesFlag       = "http.max-body-bytes"
	logLevelFlag           = "log.level"
)

func appFlags() []cli.Flag {
	def := dotori.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:     maxKeySizeFlag,
			Usage:    "Maximum key size in bytes",
			Value:    def.MaxKeySize,
			EnvVars:  []string{"MAX_KEY_SIZE"},
			Category: cacheCategory,
		},
		&cli.IntFlag{
			Name:     maxValueSizeFlag,
			Usage:    "Maximum value size in bytes",
			Value:    def.MaxValueSize,
			EnvVars:  []string{"MAX_VALUE_SIZE"},
			Category: cacheCategory,
		},
		&cli.IntFlag{
			Name:     maxValueBlockCountFlag,
			Usage:    "Maximum number of entries before LRU eviction",
			Value:    def.MaxValueBlockCount,
			EnvVars:  []string{"MAX_VALUE_BLOCK_COUNT"},
			Category: cacheCategory,
		},
		&cli.StringFlag{
			Name:     keyOverflowFlag,
			Usage:    "What to do with oversized keys (TRUNCATE or THROW)",
			Value:    string(def.KeyOverflowBehavior),
			EnvVars:  []string{"KEY_OVERFLOW_BEHAVIOR"},
			Category: cacheCategory,
		},
		&cli.StringFlag{
			Name:     valueOverflowFlag,
			Usage:    "What to do with oversized values (TRUNCATE or THROW)",
			Value:    string(def.ValueOverflowBehavior),
			EnvVars:  []string{"VALUE_OVERFLOW_BEHAVIOR"},
			Category: cacheCategory,
		},
		&cli.StringFlag{
			Name:     addrFlag,
			Usage:    "HTTP listen address",
			Value:    ":3000",
			EnvVars:  []string{"DOTORI_ADDR"},
			Category: httpCategory,
		},
		&cli.StringSliceFlag{
			Name:     corsFlag,
			Usage:    "Comma separated origins allowed by CORS (empty disables CORS)",
			EnvVars:  []string{"DOTORI_CORS_ORIGINS"},
			Category: httpCategory,
		},
		&cli.DurationFlag{
			Name:     shutdownTimeoutFlag,
			Usage:    "Grace period for in-flight requests on shutdown",
			Value:    server.DefaultShutdownTimeout,
			EnvVars:  []string{"DOTORI_SHUTDOWN_TIMEOUT"},
			Category: httpCategory,
		},
		&cli.Int64Flag{
			Name:     maxBodyBytesFlag,
			Usage:    "PUT body limit in bytes (0 derives it from the cache size limits)",
			EnvVars:  []string{"DOTORI_MAX_BODY_BYTES"},
			Category: httpCategory,
		},
		&cli.StringFlag{
			Name:     logLevelFlag,
			Usage:    "Log level (debug, info, warn, error)",
			Value:    "info",
			EnvVars:  []string{"DOTORI_LOG_LEVEL"},
			Category: loggingCategory,
		},
	}
}

// cacheOptions reads the cache flags into dotori options.
func cacheOptions(ctx *cli.Context) ([]dotori.Option, error) {
	keyOverflow, err := dotori.ParseOverflowBehavior(ctx.String(keyOverflowFlag))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", keyOverflowFlag, err)
	}
	valueOverflow, err := dotori.ParseOverflowBehavior(ctx.String(valueOverflowFlag))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", valueOverflowFlag, err)
	}

	return []dotori.Option{
		dotori.WithMaxKeySize(ctx.Int(maxKeySizeFlag)),
		dotori.WithMaxValueSize(ctx.Int(maxValueSizeFlag)),
		dotori.WithMaxValueBlockCount(ctx.Int(maxValueBlockCountFlag)),
		dotori.WithKeyOverflowBehavior(keyOverflow),
		dotori.WithValueOverflowBehavior(valueOverflow),
	}, nil
}

// serverConfig reads the HTTP flags.
func serverConfig(ctx *cli.Context, cfg dotori.Config) server.Config {
	var origins []string
	for _, o := range ctx.StringSlice(corsFlag) {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	maxBody := ctx.Int64(maxBodyBytesFlag)
	if maxBody <= 0 {
		maxBody = bodyLimit(cfg)
	}
	return server.Config{
		Addr:            ctx.String(addrFlag),
		CORSOrigins:     origins,
		MaxBodyBytes:    maxBody,
		ShutdownTimeout: ctx.Duration(shutdownTimeoutFlag),
	}
}

// bodyLimit sizes the PUT body cap from the cache limits: room for a fully
// escaped key and value plus the JSON envelope. Oversized input under
// TRUNCATE must reach the cache to be cut down, so the cap never drops below
// server.DefaultMaxBodyBytes unless both behaviors are THROW.
func bodyLimit(cfg dotori.Config) int64 {
	const envelope = 4096
	const maxPart = (math.MaxInt64 - envelope) / 4
	key, value := int64(cfg.MaxKeySize), int64(cfg.MaxValueSize)
	limit := int64(math.MaxInt64)
	if key <= maxPart && value <= maxPart {
		limit = 2*(key+value) + envelope
	}
	if cfg.KeyOverflowBehavior == dotori.OverflowThrow && cfg.ValueOverflowBehavior == dotori.OverflowThrow {
		return limit
	}
	return max(limit, server.DefaultMaxBodyBytes)
}

// newLogger builds the logfmt logger filtered to the requested level.
func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var allow level.Option
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		allow = level.AllowDebug()
	case "info", "":
		allow = level.AllowInfo()
	case "warn", "warning":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, allow)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger, nil
}
