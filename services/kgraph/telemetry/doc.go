// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for Cartograph.
//
// Init configures the global TracerProvider and MeterProvider from a single
// Config; after it returns, otel.Tracer() and otel.Meter() work anywhere in
// the process. Exporters are selected by configuration, not code: traces go
// to OTLP or stdout, metrics to Prometheus (exposed through MetricsHandler)
// or stdout. LoggerWithTrace injects trace_id and span_id into log records
// so logs correlate with traces.
//
// # Environment Variables
//
// Standard OTel environment variables are honored by DefaultConfig:
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: stdout)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - CARTOGRAPH_ENV: deployment environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
