package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatline/internal/logger"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

// EmbeddedPostgres запускает локальный PostgreSQL для режима -dev и возвращает его вместе со строкой подключения.
func EmbeddedPostgres() (*embeddedpostgres.EmbeddedPostgres, string, error) {
	const (
		port     = 5432
		user     = "chatline"
		password = "chatline_secret"
		database = "chatline"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, "", fmt.Errorf("start: %w", err)
	}
	url := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, url, nil
}
