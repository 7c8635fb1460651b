package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Setup ---

var (
	binaryName  = "audio-downloader-bot"
	binaryPath  string
	projectRoot string
)

// TestMain builds the binary once before all tests in the package.
func TestMain(m *testing.M) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Println("Could not get caller information")
		os.Exit(1)
	}
	projectRoot = filepath.Join(filepath.Dir(filename), "..", "..")

	buildDir, err := os.MkdirTemp("", "audio-downloader-bot-it")
	if err != nil {
		fmt.Printf("Failed to create build dir: %v\n", err)
		os.Exit(1)
	}
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	binaryPath = filepath.Join(buildDir, binaryName)

	fmt.Println("Building binary for integration tests...")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = filepath.Join(projectRoot, "cmd", "audio-downloader-bot")
	buildOutput, err := buildCmd.CombinedOutput()
	if err != nil {
		fmt.Printf("Failed to build binary: %v\nOutput:\n%s\n", err, string(buildOutput))
		os.RemoveAll(buildDir)
		os.Exit(1)
	}

	exitCode := m.Run()
	os.RemoveAll(buildDir)
	os.Exit(exitCode)
}

// --- Helper Functions ---

// runCommand executes the binary with the given environment additions and arguments.
func runCommand(t *testing.T, env []string, args ...string) (string, string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(filteredEnv(), env...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		t.Logf("Command failed with error: %v\nStderr:\n%s", err, stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

// filteredEnv drops bot settings inherited from the developer's shell.
func filteredEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TELEGRAM_BOT_TOKEN=") || strings.HasPrefix(kv, "ADMIN_TELEGRAM_ID=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// createTempConfig creates a temporary TOML config file
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	tempFile := filepath.Join(t.TempDir(), "temp_config.toml")
	require.NoError(t, os.WriteFile(tempFile, []byte(content), 0o644), "Failed to write temporary config file")
	return tempFile
}

// parseShowConfigOutput extracts the JSON printed after the config header.
func parseShowConfigOutput(t *testing.T, output string) map[string]interface{} {
	t.Helper()
	_, after, found := strings.Cut(output, "--- Global Config Settings ---")
	require.True(t, found, "config header missing from output:\n%s", output)

	start := strings.Index(after, "{")
	end := strings.LastIndex(after, "}")
	require.True(t, start >= 0 && end > start, "config JSON missing from output:\n%s", output)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(after[start:end+1]), &parsed))
	return parsed
}

// --- Test Cases ---

func TestRunShowConfig_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := createTempConfig(t, `DataDir = "`+filepath.ToSlash(dataDir)+`"`)

	stdout, _, err := runCommand(t, nil, "--config", cfgPath, "run", "--show-config")
	require.NoError(t, err)

	cfg := parseShowConfigOutput(t, stdout)
	assert.Equal(t, float64(50), cfg["MaxFileSizeMB"])
	assert.Equal(t, float64(5), cfg["MaxSearchResults"])
	assert.Equal(t, float64(30), cfg["RateLimitSeconds"])
	assert.Equal(t, float64(600), cfg["SearchCacheTTLSec"])
	assert.Equal(t, "yt-dlp", cfg["ExtractorPath"])
	assert.Equal(t, "ffmpeg", cfg["TranscoderPath"])
	assert.Equal(t, "mp3", cfg["AudioFormat"])
	assert.Equal(t, filepath.Join(dataDir, "bot_database.sqlite"), cfg["DatabasePath"])
	assert.Equal(t, "", cfg["BotToken"])
}

func TestRunShowConfig_ConfigLoad(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := createTempConfig(t, `
DataDir = "`+filepath.ToSlash(dataDir)+`"
MaxFileSizeMB = 20
MaxSearchResults = 8
RateLimitSeconds = 90
AudioFormat = "m4a"
`)

	stdout, _, err := runCommand(t, nil, "--config", cfgPath, "run", "--show-config")
	require.NoError(t, err)

	cfg := parseShowConfigOutput(t, stdout)
	assert.Equal(t, float64(20), cfg["MaxFileSizeMB"])
	assert.Equal(t, float64(8), cfg["MaxSearchResults"])
	assert.Equal(t, float64(90), cfg["RateLimitSeconds"])
	assert.Equal(t, "m4a", cfg["AudioFormat"])
}

func TestRunShowConfig_EnvAndFlagOverrides(t *testing.T) {
	fileDir := t.TempDir()
	flagDir := t.TempDir()
	cfgPath := createTempConfig(t, `
BotToken = "from-file"
AdminID = 1
DataDir = "`+filepath.ToSlash(fileDir)+`"
`)

	env := []string{"TELEGRAM_BOT_TOKEN=123456:from-env", "ADMIN_TELEGRAM_ID=4242"}
	stdout, stderr, err := runCommand(t, env, "--config", cfgPath, "--data-dir", flagDir, "run", "--show-config")
	require.NoError(t, err)

	cfg := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "<redacted>", cfg["BotToken"])
	assert.Equal(t, float64(4242), cfg["AdminID"])
	assert.Equal(t, flagDir, cfg["DataDir"])
	assert.Equal(t, filepath.Join(flagDir, "downloads"), cfg["DownloadDir"])
	assert.NotContains(t, stdout+stderr, "from-env")
	assert.NotContains(t, stdout+stderr, "from-file")

	stdout, _, err = runCommand(t, env, "--config", cfgPath, "--admin-id", "7", "run", "--show-config")
	require.NoError(t, err)
	cfg = parseShowConfigOutput(t, stdout)
	assert.Equal(t, float64(7), cfg["AdminID"], "flag wins over environment")
}

func TestRun_RequiresToken(t *testing.T) {
	cfgPath := createTempConfig(t, `DataDir = "`+filepath.ToSlash(t.TempDir())+`"`)

	_, stderr, err := runCommand(t, nil, "--config", cfgPath, "run")
	require.Error(t, err)
	assert.Contains(t, stderr, "bot token is not configured")
}

func TestDbStats_EmptyDatabase(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := createTempConfig(t, `DataDir = "`+filepath.ToSlash(dataDir)+`"`)

	stdout, _, err := runCommand(t, nil, "--config", cfgPath, "db", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Users")
	assert.Contains(t, stdout, "Downloads")

	stdout, _, err = runCommand(t, nil, "--config", cfgPath, "db", "stats", "99")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No downloads recorded for user 99")

	_, _, err = runCommand(t, nil, "--config", cfgPath, "db", "downloads", "not-a-number")
	assert.Error(t, err)
}

func TestClean_RemovesStaleWorkDirs(t *testing.T) {
	dataDir := t.TempDir()
	stale := filepath.Join(dataDir, "downloads", "attempt-stale")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "x.mp3.part"), []byte("x"), 0o644))
	cfgPath := createTempConfig(t, `DataDir = "`+filepath.ToSlash(dataDir)+`"`)

	stdout, _, err := runCommand(t, nil, "--config", cfgPath, "clean", "--older-than", "0s")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed 1 work directories")
	assert.NoDirExists(t, stale)
}
