package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"trackerd/internal/config"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	require.GreaterOrEqual(t, cfg.Verbosity, 0)
	require.NotEmpty(t, cfg.IndexRecursiveDirectories)
	require.True(t, cfg.EnableMonitors)
	require.False(t, cfg.IndexRemovableDevices)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	env := []string{"XDG_CONFIG_HOME=" + tmp}

	cfg, err := config.Load(env)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_JSONCOverlayMergesOverDefaults(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	dir := filepath.Join(tmp, "trackerd")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	raw := `{
		// a comment, only valid in JSONC
		"verbosity": 2,
		"enable_writeback": true,
		"index_recursive_directories": ["/srv/data"],
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(raw), 0o644))

	env := []string{"XDG_CONFIG_HOME=" + tmp}

	cfg, err := config.Load(env)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Verbosity)
	require.True(t, cfg.EnableWriteback)
	require.Equal(t, []string{"/srv/data"}, cfg.IndexRecursiveDirectories)
}

func TestLoad_RejectsOutOfRangeVerbosity(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	dir := filepath.Join(tmp, "trackerd")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(`{"verbosity": 9}`), 0o644))

	_, err := config.Load([]string{"XDG_CONFIG_HOME=" + tmp})
	require.Error(t, err)
}

func TestResolveAlias_IgnoresHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()

	resolved, err := config.ResolveAlias(home, home)
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestResolveAlias_ExpandsXDGUserDirsFile(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfgDir := filepath.Join(home, ".config")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))

	contents := `XDG_DOWNLOAD_DIR="$HOME/MyDownloads"` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "user-dirs.dirs"), []byte(contents), 0o644))

	resolved, err := config.ResolveAlias("&DOWNLOAD", home)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "MyDownloads"), resolved)
}

func TestResolveAlias_FallsBackWithoutUserDirsFile(t *testing.T) {
	t.Parallel()

	home := t.TempDir()

	resolved, err := config.ResolveAlias("&MUSIC", home)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "Music"), resolved)
}

func TestResolveAlias_PassesThroughPlainPaths(t *testing.T) {
	t.Parallel()

	resolved, err := config.ResolveAlias("/srv/shared", "/home/x")
	require.NoError(t, err)
	require.Equal(t, "/srv/shared", resolved)
}

func TestResolveIgnoreList_SplitsExactPathsFromGlobs(t *testing.T) {
	t.Parallel()

	exact, globs := config.ResolveIgnoreList([]string{"/srv/private", "*.tmp", "/etc/skip", "node_modules"})

	require.Equal(t, []string{"/srv/private", "/etc/skip"}, exact)
	require.Equal(t, []string{"*.tmp", "node_modules"}, globs)
}
