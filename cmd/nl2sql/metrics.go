package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"nl2sql/internal/config"
	"nl2sql/internal/metrics"
	"nl2sql/internal/metrics/datadog"
)

// initMetrics installs the configured metrics backend and returns its
// shutdown function. The backend name comes from the config, then the
// METRICS_BACKEND environment variable.
func initMetrics(ctx context.Context, p config.Pipeline, log *zap.Logger) (func(), error) {
	name := strings.ToLower(strings.TrimSpace(p.Metrics.Backend))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_BACKEND")))
	}

	switch name {
	case "datadog":
		// Datadog backend:
		//   - buffers metrics and submits every FlushEvery
		//   - submits one final time at shutdown (Close())
		tags := append([]string{"split:" + p.Name}, p.Metrics.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)

		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    p.Job,
			Tags:       tags,
			FlushEvery: p.Metrics.FlushEvery.D(),
		})
		if err != nil {
			return nil, fmt.Errorf("metrics: datadog: %w", err)
		}
		log.Info("metrics enabled", zap.String("backend", name), zap.String("job", p.Job), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		return func() {
			// Close stops the periodic flush loop and then performs a final Flush.
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}, nil

	case "", "none":
		log.Debug("metrics disabled")
		return func() {}, nil

	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", name)
	}
}
