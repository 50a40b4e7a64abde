// Package migrations embeds the Chatgate schema into the binary.
//
// Importing it for side effects registers the files with the database
// package, so Migrate works without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/chatgate-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
