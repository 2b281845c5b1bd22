package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
}

func TestFindRoot(t *testing.T) {
	t.Parallel()

	source := []string{"원천데이터", "01.원천데이터", "1.원천데이터", "TS"}
	label := []string{"라벨링데이터", "02.라벨링데이터", "2.라벨링데이터", "TL"}

	tests := []struct {
		name     string
		dirs     []string
		files    []string
		keywords []string
		want     string
		found    bool
	}{
		{name: "numbered_prefix", dirs: []string{"01.원천데이터", "02.라벨링데이터"}, keywords: source, want: "01.원천데이터", found: true},
		{name: "label", dirs: []string{"01.원천데이터", "02.라벨링데이터"}, keywords: label, want: "02.라벨링데이터", found: true},
		{name: "abbreviation", dirs: []string{"TL_text", "TS_text"}, keywords: source, want: "TS_text", found: true},
		{name: "lexical_first_wins", dirs: []string{"b_TS", "a_TS"}, keywords: source, want: "a_TS", found: true},
		{name: "files_ignored", files: []string{"TS.zip"}, keywords: source},
		{name: "case_sensitive", dirs: []string{"ts"}, keywords: source},
		{name: "nfd_name", dirs: []string{norm.NFD.String("1.원천데이터")}, keywords: source, want: norm.NFD.String("1.원천데이터"), found: true},
		{name: "none", dirs: []string{"misc"}, keywords: label},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for _, d := range tc.dirs {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
			}
			for _, f := range tc.files {
				touch(t, filepath.Join(dir, f))
			}

			got, found, err := FindRoot(dir, tc.keywords)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found)
			if tc.found {
				assert.Equal(t, filepath.Join(dir, tc.want), got)
			}
		})
	}
}

func TestFindRoot_MissingDir(t *testing.T) {
	t.Parallel()

	_, found, err := FindRoot(filepath.Join(t.TempDir(), "nope"), []string{"TS"})
	require.Error(t, err)
	assert.False(t, found)
}

func TestWalk_AllDepthsSorted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, filepath.Join(root, "b.json"))
	touch(t, filepath.Join(root, "a", "deep", "x", "shop.sqlite"))
	touch(t, filepath.Join(root, "a", "z.json"))
	touch(t, filepath.Join(root, "c", "schema.JSON"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	files, err := collect(root)
	require.NoError(t, err)

	var got []string
	for _, f := range files {
		rel, err := filepath.Rel(root, f.Path())
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a/deep/x/shop.sqlite", "a/z.json", "b.json", "c/schema.JSON"}, got)
	assert.Equal(t, ".json", files[3].Ext())

	again, err := collect(root)
	require.NoError(t, err)
	assert.Equal(t, files, again)
}

func TestWalk_EarlyStopAndMissingRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, filepath.Join(root, "1.json"))
	touch(t, filepath.Join(root, "2.json"))

	n := 0
	for _, err := range Walk(root) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)

	_, err := collect(filepath.Join(root, "missing"))
	require.Error(t, err)
}

// collect drains Walk into a slice, stopping at the first error.
func collect(root string) ([]File, error) {
	var out []File
	for f, err := range Walk(root) {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}
