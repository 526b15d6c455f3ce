// Package migrations embeds the gateway's SQL migrations (node directory
// and command audit log) into the binary.
package migrations

import (
	"embed"

	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
