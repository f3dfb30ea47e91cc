package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".ai-framework.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"project": {"name": "demo"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.Project.Name)
	require.Equal(t, Moderate, cfg.Learning.Sensitivity)
	require.Equal(t, 3, cfg.Learning.MaxProposalsPerSession)
	require.Equal(t, 7, cfg.Learning.CooldownDays)
	require.Equal(t, 3, cfg.Orchestration.MaxReviewIterations)
	require.Equal(t, 4, cfg.Orchestration.StaleBusyHours)
}

func TestLoadRejectsUnknownSensitivity(t *testing.T) {
	path := writeConfig(t, `{"learning": {"sensitivity": "yolo"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTripsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"project": {"name": "demo"}, "mystery_field": {"a": 1}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.Project.Name = "demo2"
	require.NoError(t, Save(cfg, path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo2", reloaded.Project.Name)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "mystery_field")
}

func TestSensitivityMinConfidence(t *testing.T) {
	require.Equal(t, 0.7, Conservative.MinConfidence())
	require.Equal(t, 0.5, Moderate.MinConfidence())
	require.Equal(t, 0.3, Aggressive.MinConfidence())
}

func TestValidateReloadRejectsRootChange(t *testing.T) {
	a := Defaults()
	a.Project.Root = "/one"
	b := Defaults()
	b.Project.Root = "/two"
	require.Error(t, ValidateReload(a, b))
}
