package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gcsops/crm-pipeline/internal/config"
	"github.com/gcsops/crm-pipeline/pkg/cache"
	"github.com/gcsops/crm-pipeline/pkg/logging"
	"github.com/gcsops/crm-pipeline/pkg/pipeline"
	"github.com/gcsops/crm-pipeline/pkg/progress"
)

func main() {
	configPath := getEnv("CONFIG_PATH", "config.yml")

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	pipeCfg := cfg.Pipeline()
	pipeCfg.Progress = logSink()

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Cache.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Failed to connect to Redis")
		}
		store = cache.NewRedisStore(redisClient)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Using Redis result cache")
	}

	pipe, err := pipeline.NewWithStore(pipeCfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pipeline")
	}

	http.HandleFunc("/health", healthHandler)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/api/v1/metrics", metricsHandler(pipe))

	addr := cfg.Addr()
	log.Info().Str("addr", addr).Msg("Starting CRM metrics server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// metricsHandler serves the per-owner aggregate, computed or cached.
func metricsHandler(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		result, err := pipe.GetCachedOrCompute(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Aggregate computation failed")
			http.Error(w, `{"error":"aggregate computation failed"}`, http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if result.FromCache {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}

		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Error().Err(err).Msg("Failed to write response")
		}
	}
}

// logSink mirrors pipeline progress into the log for cache-triggered runs.
func logSink() progress.Sink {
	return func(e progress.Event) {
		log.Debug().
			Str("phase", string(e.Phase)).
			Int("current", e.Current).
			Int("total", e.Total).
			Float64("percentage", e.Percentage).
			Msg(e.Message)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
