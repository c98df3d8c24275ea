package indexer

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(test *testing.T, fs afero.Fs, names ...string) {
	test.Helper()
	for _, name := range names {
		require.NoError(test, afero.WriteFile(fs, filepath.Join(sourceDir, name), []byte("x"), 0644))
	}
}

func TestScanMatchesExtension(test *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(test, fs, "a.tif", "B.TIF", "notes.txt", "nested/c.tif")

	sc, err := NewScanner(fs, "tif", "")
	require.NoError(test, err)
	assert.Equal(test, ".tif", sc.Extension)

	listing, err := sc.Scan(sourceDir)
	require.NoError(test, err)
	assert.Equal(test, map[string]string{
		"a": filepath.Join(sourceDir, "a.tif"),
		"B": filepath.Join(sourceDir, "B.TIF"),
	}, listing.Sources)
	assert.Empty(test, listing.Conflicts)
}

func TestScanFilter(test *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(test, fs, "LC08_001.tif", "LC08_002.tif", "S2A_001.tif")

	sc, err := NewScanner(fs, ".tif", `path =~ "LC08_.*" && type == "f"`)
	require.NoError(test, err)

	listing, err := sc.Scan(sourceDir)
	require.NoError(test, err)
	assert.Len(test, listing.Sources, 2)
	assert.Contains(test, listing.Sources, "LC08_001")
	assert.NotContains(test, listing.Sources, "S2A_001")
}

func TestScanFilterRejectsUnknownVariables(test *testing.T) {
	_, err := NewScanner(afero.NewMemMapFs(), ".tif", `size > 10`)
	assert.Error(test, err)
}

func TestScanConflictingKeys(test *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(test, fs, "good.tif", "dup.tif", "dup.TIF")

	sc, err := NewScanner(fs, ".tif", "")
	require.NoError(test, err)
	listing, err := sc.Scan(sourceDir)
	require.NoError(test, err)

	assert.Equal(test, map[string]string{"good": filepath.Join(sourceDir, "good.tif")}, listing.Sources)
	require.Contains(test, listing.Conflicts, "dup")
	assert.ElementsMatch(test, []string{
		filepath.Join(sourceDir, "dup.tif"),
		filepath.Join(sourceDir, "dup.TIF"),
	}, listing.Conflicts["dup"])
}

func TestFilenameToKey(test *testing.T) {
	assert.Equal(test, "LC08_L1TP", FilenameToKey("/data/LC08_L1TP.tif"))
	assert.Equal(test, "scene.v2", FilenameToKey("scene.v2.tif"))
}
