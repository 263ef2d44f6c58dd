// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the ordered SQL schema migrations applied at
// startup by postgres.EnsureSchema.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var embeddedFiles embed.FS

type File struct {
	Name string
	SQL  string
}

// Ordered returns every embedded .sql file sorted by filename. The numeric
// filename prefix defines apply order.
func Ordered() ([]File, error) {
	entries, err := fs.ReadDir(embeddedFiles, ".")
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		body, err := embeddedFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}

		files = append(files, File{Name: name, SQL: string(body)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}
