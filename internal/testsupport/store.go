package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/article-autopilot/internal/storage/database"
)

// NewRepository opens a migrated SQLite repository in a per-test temp directory.
func NewRepository(t testing.TB) *database.Repository {
	t.Helper()

	repo, err := database.New(database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "autopilot.db"),
	})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("migrate repository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}
