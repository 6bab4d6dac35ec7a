// Package migrations embeds the SQL migration files for the mtx store.
//
// Everything except the clients table is a rebuildable cache of
// server-authoritative state. A schema generation bump therefore drops and
// recreates the cache tables and resets each client's pagination cursor, so
// the next sync starts from scratch; client identity always survives.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
