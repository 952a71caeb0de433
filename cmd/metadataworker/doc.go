// Package main hosts the metadata worker entrypoint.
//
// Architecture overview:
//   - Delivery: bookmark-created messages arrive from one of three transports selected by queue.provider. The
//     memory queue is fed by POST /v1/enrich and drained by a fixed worker pool; pubsub and nats consume from a
//     subscription and let the broker redeliver.
//   - Processing: worker.Worker fetches the page through the bounded HTTP fetcher, tokenizes it with the extract
//     package, projects the result into enrich.Metadata and writes it to the bookmark row in one transaction.
//     Transient failures are retried until worker.max_attempts; the last attempt marks the bookmark failed.
//   - Side effects: raw HTML snapshots go to the configured archive (memory/local/GCS) and terminal outcomes are published
//     to pubsub.result_topic. Both are best effort and never change a delivery's outcome.
//   - Plumbing: Viper loads config from file and environment (a local .env is read first); zap provides structured
//     logging; Prometheus metrics are served on /metrics next to /healthz and /readyz.
//
// Quick checklist:
//   - Configure env vars: METADATA_DB_DSN or DATABASE_URL, METADATA_QUEUE_PROVIDER, METADATA_PUBSUB_* or
//     METADATA_NATS_*, METADATA_ARCHIVE_*, PORT.
//   - Run locally: go run ./cmd/metadataworker -config config.yaml
//   - The process drains in-flight deliveries and shuts down on SIGTERM.
package main
