// Package migrations embeds the platform's SQL migrations so the runner
// works regardless of working directory. Files apply in name order:
// 001_platform_schema.sql creates the `platform` schema (agents, discovered
// schemas, query-log config), 002_monitoring_schema.sql the `monitoring`
// schema (queries, evaluations, drift, errors, baseline).
package migrations

import "embed"

// FS is consumed by storage.RunMigrations; applied versions are tracked in
// platform.schema_migrations by filename.
//
//go:embed *.sql
var FS embed.FS
