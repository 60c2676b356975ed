package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe    = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	unsafeNameRe  = regexp.MustCompile(`[^a-z0-9]+`)
	requiredMarks = []string{"-- +goose Up", "-- +goose Down"}
)

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<name>.sql and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", time.Now().UTC().Format(versionLayout), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

// ValidateDir checks the migrations on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return validateFS(os.DirFS(dir), dir)
}

// ValidateEmbedded checks the migrations compiled into the binary.
func ValidateEmbedded() error {
	sub, err := Source{Embedded: true}.fs()
	if err != nil {
		return err
	}
	return validateFS(sub, "embedded:"+EmbeddedDir)
}

// validateFS enforces goose naming, unique versions and the Up/Down markers.
func validateFS(fsys fs.FS, label string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read %s: %w", label, err)
	}

	versions := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("%s: invalid migration filename %q (want YYYYMMDDHHMMSS_name.sql)", label, name)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("%s: version %s used by %q and %q", label, m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("%s: read %q: %w", label, name, err)
		}
		text := string(body)
		for _, mark := range requiredMarks {
			if !strings.Contains(text, mark) {
				return fmt.Errorf("%s: %q missing %q", label, name, mark)
			}
		}
		if begins, ends := strings.Count(text, "-- +goose StatementBegin"), strings.Count(text, "-- +goose StatementEnd"); begins != ends {
			return fmt.Errorf("%s: %q has %d StatementBegin and %d StatementEnd", label, name, begins, ends)
		}
	}
	return nil
}

func slugify(name string) string {
	slug := unsafeNameRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(slug, "_")
}
