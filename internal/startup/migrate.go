package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/chatline/internal/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate применяет все *.sql из files по порядку имён (001_, 002_, ...).
// Миграции идемпотентны (IF NOT EXISTS), поэтому повторный запуск безопасен.
func Migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}
