package bigquery

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationPattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_create_categories.sql", true, "0001", "create_categories"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.Len(t, m, 3)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_items.sql": {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.{{LINE_ITEMS_TABLE}}` (x INT64);")},
		"m/0001_cats.sql":  {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.categories` (x INT64);")},
		"m/README.md":      {Data: []byte("notes")},
		"m/sub/0003_x.sql": {Data: []byte("ignored")},
	}

	migrations, err := ReadMigrations(fsys, "m", Target{ProjectID: "p", Dataset: "d"})
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "cats", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `p.d.categories` (x INT64);", migrations[0].SQL)

	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "CREATE TABLE `p.d.line_items` (x INT64);", migrations[1].SQL)
	assert.Len(t, migrations[1].Checksum, 64)
}

func TestReadMigrations_ChecksumIgnoresTarget(t *testing.T) {
	fsys := fstest.MapFS{"m/0001_a.sql": {Data: []byte("SELECT '{{DATASET_ID}}'")}}

	a, err := ReadMigrations(fsys, "m", Target{ProjectID: "p", Dataset: "one"})
	require.NoError(t, err)
	b, err := ReadMigrations(fsys, "m", Target{ProjectID: "p", Dataset: "two"})
	require.NoError(t, err)

	assert.NotEqual(t, a[0].SQL, b[0].SQL)
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("a")},
		"m/0001_b.sql": {Data: []byte("b")},
	}

	_, err := ReadMigrations(fsys, "m", Target{})
	assert.ErrorContains(t, err, "version 0001")
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := ReadMigrations(embeddedMigrations, "migrations", Target{ProjectID: "p", Dataset: "d", LineItemsTable: "items"})
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are contiguous")
		assert.NotContains(t, m.SQL, "{{", m.Filename)
	}
	assert.Contains(t, migrations[len(migrations)-1].SQL, "`p.d.items`")
}

func TestPendingAndDrifted(t *testing.T) {
	all := []Migration{
		{Version: 1, Checksum: "a"},
		{Version: 2, Checksum: "b"},
		{Version: 3, Checksum: "c"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "a"},
		{Version: 2, Checksum: "changed"},
	}

	pending := Pending(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)

	drifted := Drifted(all, applied)
	require.Len(t, drifted, 1)
	assert.Equal(t, 2, drifted[0].Version)

	assert.Len(t, Pending(all, nil), 3)
	assert.Empty(t, Drifted(all, []AppliedMigration{{Version: 1}}), "missing checksum is not drift")
}
