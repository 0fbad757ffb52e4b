package metrics

import (
	"log"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"mpesa-push/internal/config"
)

// Setup starts pushing process metrics to the configured endpoint.
// Metrics stay local-only when no URL is configured.
func Setup(cfg config.Metrics) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		log.Printf("Error initializing metrics push: %v", err)
	}
}
