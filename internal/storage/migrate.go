package storage

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// LoadSQLFiles reads every *.sql file from migrationsFS in lexical filename
// order and returns its contents as one statement per file, ready to pass
// to Backend.RunMigrations. This is a simple forward-only migration loader
// for development and testing; production deployments should promote
// migrations through a dedicated tool rather than relying on journalctl.
func LoadSQLFiles(migrationsFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var statements []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("storage: read migration %s: %w", entry.Name(), err)
		}
		statements = append(statements, string(content))
	}
	return statements, nil
}
