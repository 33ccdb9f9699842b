package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"croprec/pipeline"
	"croprec/recommend"
	"croprec/testutil"
)

func writeConfig(t *testing.T, artifactsDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "artifacts:\n  dir: " + artifactsDir + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestPredictCommand(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArtifacts(t, dir)
	cfg := writeConfig(t, dir)

	out, err := run(t, "predict", "--config", cfg,
		"--n", "90", "--p", "42", "--k", "43",
		"--temperature", "20.8", "--humidity", "82", "--ph", "6.5", "--rainfall", "202.9")
	require.NoError(t, err)
	assert.Contains(t, out, "Recommended Crop: RICE")
	assert.Contains(t, out, "This crop requires high water availability.")
}

func TestPredictCommandJSON(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArtifacts(t, dir)
	cfg := writeConfig(t, dir)

	out, err := run(t, "predict", "--config", cfg, "--json",
		"--n", "90", "--p", "42", "--k", "43",
		"--temperature", "20.8", "--humidity", "82", "--ph", "6.5", "--rainfall", "202.9")
	require.NoError(t, err)

	var rec recommend.Recommendation
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "rice", rec.Crop)
	assert.Equal(t, recommend.SourceCLI, rec.Source)
}

func TestPredictCommandRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArtifacts(t, dir)

	_, err := run(t, "predict", "--config", writeConfig(t, dir), "--ph", "15")
	var verr *pipeline.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArtifacts(t, dir)

	out, err := run(t, "check", "--config", writeConfig(t, dir))
	require.NoError(t, err)
	assert.Contains(t, out, "artifacts ok")
	assert.Contains(t, out, "features (7): N, P, K, temperature, humidity, ph, rainfall")
	assert.Contains(t, out, "classes (22)")
	assert.NotContains(t, out, "no catalog entry")
}

func TestCheckCommandFailsWithoutArtifacts(t *testing.T) {
	_, err := run(t, "check", "--config", writeConfig(t, t.TempDir()))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrArtifactLoad)
	assert.True(t, strings.Contains(err.Error(), "classifier"))
}
