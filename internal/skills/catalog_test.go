package skills

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saleskit/ltc-backend/internal/domain"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func loadedCatalog(t *testing.T, files map[string]string) *Catalog {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeSkill(t, dir, name, content)
	}
	c := NewCatalog(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, c.Load())
	return c
}

const writeEmailSkill = `
slug: write-email
name: Write Email
system_prompt: |
  You draft outbound sales emails.
supports_multi_turn: true
parameters:
  - name: tone
    description: desired tone
    required: true
    schema:
      type: string
      enum: [formal, casual]
  - name: length
    schema:
      type: integer
      minimum: 1
`

func TestLoadAndGet(t *testing.T) {
	c := loadedCatalog(t, map[string]string{"write-email.yaml": writeEmailSkill})

	skill, err := c.Get("write-email")
	require.NoError(t, err)
	assert.Equal(t, "Write Email", skill.Name)
	assert.True(t, skill.SupportsMultiTurn)
	assert.Len(t, skill.Parameters, 2)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, domain.ErrSkillNotFound)
}

func TestLoadSkipsBrokenDefinitions(t *testing.T) {
	c := loadedCatalog(t, map[string]string{
		"good.yaml":    "slug: good\nsystem_prompt: ok\n",
		"broken.yaml":  "slug: [not a string\n",
		"no-slug.yaml": "name: Anonymous\nsystem_prompt: x\n",
		"notes.txt":    "not a skill",
	})

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Slug)
}

func TestListSortedBySlug(t *testing.T) {
	c := loadedCatalog(t, map[string]string{
		"b.yaml": "slug: beta\nsystem_prompt: x\n",
		"a.yaml": "slug: alpha\nsystem_prompt: x\n",
	})

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Slug)
	assert.Equal(t, "beta", list[1].Slug)
}

func TestValidateParams(t *testing.T) {
	c := loadedCatalog(t, map[string]string{"write-email.yaml": writeEmailSkill})

	cases := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"tone": "formal", "length": 3}, false},
		{"required only", map[string]any{"tone": "casual"}, false},
		{"missing required", map[string]any{"length": 3}, true},
		{"enum violation", map[string]any{"tone": "aggressive"}, true},
		{"type violation", map[string]any{"tone": "formal", "length": "long"}, true},
		{"minimum violation", map[string]any{"tone": "formal", "length": 0}, true},
		{"unknown parameter", map[string]any{"tone": "formal", "font": "serif"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.ValidateParams("write-email", tc.params)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateParamsUnknownSkill(t *testing.T) {
	c := loadedCatalog(t, nil)

	err := c.ValidateParams("ghost", nil)
	assert.ErrorIs(t, err, domain.ErrSkillNotFound)
}

func TestReloadSwapsCatalog(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "one.yaml", "slug: one\nsystem_prompt: x\n")

	c := NewCatalog(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, c.Load())
	require.Len(t, c.List(), 1)

	writeSkill(t, dir, "two.yaml", "slug: two\nsystem_prompt: y\n")
	require.NoError(t, c.Load())
	assert.Len(t, c.List(), 2)
}
