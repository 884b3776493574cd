package migrations

import "embed"

// PostgresFS holds the event-store schema files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the candle-mirror schema files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
