package postgres

import (
	"cmp"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql/migrations"

// 0003_outbox_timeline_idempotency.up.sql
var migrationName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) String() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

// migrationSet — миграции по возрастанию версии.
type migrationSet []migration

// MigrationState — версия схемы и число применённых и ожидающих миграций.
type MigrationState struct {
	CurrentVersion int64
	Applied        int
	Pending        int
}

// parseMigrations собирает пары up/down из каталога dir. Каждая версия обязана иметь оба файла.
func parseMigrations(fsys fs.FS, dir string) (migrationSet, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts := migrationName.FindStringSubmatch(e.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", e.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: version: %w", e.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration %s is empty", e.Name())
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		case m.Name != parts[2]:
			return nil, fmt.Errorf("migration %d: name mismatch %q vs %q", version, m.Name, parts[2])
		}
		slot := &m.UpSQL
		if parts[3] == "down" {
			slot = &m.DownSQL
		}
		*slot = script
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	set := make(migrationSet, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return set, nil
}

// pending возвращает неприменённые миграции по возрастанию; limit>0 ограничивает их число.
func (s migrationSet) pending(applied map[int64]bool, limit int) []migration {
	var out []migration
	for _, m := range s {
		if applied[m.Version] {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out
}

// rollback возвращает steps последних применённых миграций, начиная с самой новой.
// Версия из schema_migrations, которой нет среди файлов, считается ошибкой.
func (s migrationSet) rollback(applied map[int64]bool, steps int) ([]migration, error) {
	versions := make([]int64, 0, len(applied))
	for v, ok := range applied {
		if ok {
			versions = append(versions, v)
		}
	}
	slices.Sort(versions)
	slices.Reverse(versions)
	if steps < len(versions) {
		versions = versions[:steps]
	}

	out := make([]migration, 0, len(versions))
	for _, v := range versions {
		i := slices.IndexFunc(s, func(m migration) bool { return m.Version == v })
		if i < 0 {
			return nil, fmt.Errorf("cannot roll back unknown migration version %d", v)
		}
		out = append(out, s[i])
	}
	return out, nil
}

func (s migrationSet) state(applied map[int64]bool) MigrationState {
	st := MigrationState{Pending: len(s.pending(applied, 0))}
	for v, ok := range applied {
		if !ok {
			continue
		}
		st.Applied++
		st.CurrentVersion = max(st.CurrentVersion, v)
	}
	return st
}
