package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/config"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

const sampleTOML = `
mode = "copy"

[wallet]
private_key = "` + testKey + `"

[chain]
source_wallets = ["0x1111111111111111111111111111111111111111"]

[copy]
copy_ratio = "0.25"

[server]
api_key = "hunter2"
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "copybot "+version+"\n", out)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", "--config", writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
	assert.Contains(t, out, "copy ratio: 0.25")
}

func TestConfigValidateReportsProblems(t *testing.T) {
	_, err := execute(t, "config", "validate", "--config", writeConfig(t, `mode = "sideways"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	out, err := execute(t, "config", "show", "--config", writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, strings.TrimPrefix(testKey, "0x"))
	assert.Contains(t, out, `api_key = "***"`)
}

func TestKeyEncryptThenAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.key")
	t.Setenv(envKey, testKey)
	t.Setenv(envPassword, "correct horse")

	out, err := execute(t, "key", "encrypt", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	addr, err := execute(t, "key", "address", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, strings.TrimSpace(addr))
}

func TestKeyEncryptNeedsEnv(t *testing.T) {
	t.Setenv(envKey, "")
	t.Setenv(envPassword, "")
	_, err := execute(t, "key", "encrypt", "--output", filepath.Join(t.TempDir(), "k"))
	require.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "warn"
	cfg.Log.Format = "text"

	var buf bytes.Buffer
	logger, closeLog, err := newLogger(&cfg, &buf)
	require.NoError(t, err)
	defer closeLog()

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	cfg.Log.Format = "xml"
	_, _, err = newLogger(&cfg, &buf)
	assert.Error(t, err)
}

func TestNewLoggerWritesFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.File = filepath.Join(t.TempDir(), "copybot.log")

	var buf bytes.Buffer
	logger, closeLog, err := newLogger(&cfg, &buf)
	require.NoError(t, err)
	logger.Info("to both")
	closeLog()

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, buf.String(), `"msg":"to both"`)
}
