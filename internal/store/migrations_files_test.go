package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	ups, err := ListMigrations(migrationsDir, "up")
	if err != nil {
		t.Fatalf("ListMigrations(up) error = %v", err)
	}
	downs, err := ListMigrations(migrationsDir, "down")
	if err != nil {
		t.Fatalf("ListMigrations(down) error = %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}

	byVersion := map[string]int{}
	for _, file := range ups {
		byVersion[file.Version]++
	}
	for _, file := range downs {
		byVersion[file.Version]--
	}
	for version, balance := range byVersion {
		if balance != 0 {
			t.Fatalf("version %s must include exactly one up and one down file", version)
		}
	}

	for i := 1; i < len(ups); i++ {
		if ups[i-1].Name >= ups[i].Name {
			t.Fatalf("up migrations not ascending: %s then %s", ups[i-1].Name, ups[i].Name)
		}
	}
	for i := 1; i < len(downs); i++ {
		if downs[i-1].Name <= downs[i].Name {
			t.Fatalf("down migrations not descending: %s then %s", downs[i-1].Name, downs[i].Name)
		}
	}
}

func TestMigrationsPinSortKeyCollation(t *testing.T) {
	ups, err := ListMigrations(filepath.Join("..", "..", "db", "migrations"), "up")
	if err != nil {
		t.Fatalf("ListMigrations() error = %v", err)
	}
	contents := readAll(t, ups)
	for _, want := range []string{
		`COLLATE "C"`,
		columnSortKeyConstraint,
		cardSortKeyConstraint,
	} {
		if !strings.Contains(contents, want) {
			t.Fatalf("migrations missing %q", want)
		}
	}
}

func readAll(t *testing.T, files []MigrationFile) string {
	t.Helper()
	var b strings.Builder
	for _, file := range files {
		contents, err := os.ReadFile(file.Path)
		if err != nil {
			t.Fatalf("read %s: %v", file.Name, err)
		}
		b.Write(contents)
		b.WriteByte('\n')
	}
	return b.String()
}
