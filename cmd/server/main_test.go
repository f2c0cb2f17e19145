package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/config"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/xnat"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "xnat-dicomweb-proxy dev")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "xnat")
	configPath = ""
	serveFlags.listen = ":9999"
	serveFlags.archiveRoot = "/srv/archive"
	serveFlags.backend = config.BackendFixture
	t.Cleanup(func() { serveFlags.listen, serveFlags.archiveRoot, serveFlags.backend = "", "", "" })

	t.Setenv("FIXTURE_FILE", "testdata/fixture.yaml")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, "/srv/archive", cfg.ArchiveRoot)
	assert.Equal(t, config.BackendFixture, cfg.Backend)
}

func TestOpenCatalog(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Backend = config.BackendFixture
	cfg.FixtureFile = "testdata/fixture.yaml"
	catalog, closeFn, err := openCatalog(ctx, cfg)
	require.NoError(t, err)
	defer closeFn()

	p, err := catalog.Project(ctx, models.Guest, "ProjectA")
	require.NoError(t, err)
	assert.Equal(t, "Project A", p.Name)

	cfg = config.Default()
	cfg.XnatUser = "svc"
	catalog, _, err = openCatalog(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &xnat.Client{}, catalog)

	cfg.Backend = "s3"
	_, _, err = openCatalog(ctx, cfg)
	assert.Error(t, err)
}
