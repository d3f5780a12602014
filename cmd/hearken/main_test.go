package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/config"
	"github.com/mattjoyce/hearken/internal/log"
	"github.com/mattjoyce/hearken/internal/pipeline"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so chatty commands cannot fill the pipe.
	var stdoutBuf, stderrBuf bytes.Buffer
	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(&stdoutBuf, stdoutR); done <- struct{}{} }()
	go func() { _, _ = io.Copy(&stderrBuf, stderrR); done <- struct{}{} }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	<-done
	<-done
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdoutBuf.String(), stderrBuf.String()
}

// pcm16 returns ms of 16kHz mono 16-bit audio: a 440Hz tone at amp, or
// silence when amp is 0.
func pcm16(ms int, amp float64) []byte {
	n := audio.DefaultSampleRate * ms / 1000
	buf := make([]byte, n*2)
	for i := range n {
		v := amp * math.Sin(2*math.Pi*440*float64(i)/audio.DefaultSampleRate)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	yaml := "service:\n  log_level: error\nstate:\n  path: " + filepath.Join(dir, "data", "hearken.db") + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestReplayFile(t *testing.T) {
	cfg := config.Defaults()
	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg)
	require.NoError(t, err)
	defer rt.loader.Shutdown(ctx)

	session := pipeline.NewSession(rt.service, pipeline.Options{Source: "replay", Bus: rt.hub})
	defer session.Close()

	speech := append(append(pcm16(200, 0), pcm16(500, 12000)...), pcm16(200, 0)...)
	ambient := pcm16(300, 30)

	report, err := replayFile(ctx, session, bytes.NewReader(ambient), bytes.NewReader(speech), replayOptions{
		format:  audio.DefaultFormat(),
		chunkMs: 100,
		hotword: true,
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.NotEmpty(t, report.ID)
	assert.Empty(t, report.Failed)
	assert.Equal(t, true, report.Context["hotword_detected"])
	assert.Equal(t, 9, report.Context["speech_chunks"])
	trimmed, ok := report.Context["trimmed_ms"].(int64)
	require.True(t, ok, "trimmed_ms should be int64, got %T", report.Context["trimmed_ms"])
	assert.Greater(t, trimmed, int64(0))
	assert.Greater(t, report.Context["snr_db"], 0.0)
}

func TestReplayFileRejectsZeroChunk(t *testing.T) {
	_, err := replayFile(context.Background(), nil, nil, bytes.NewReader(nil), replayOptions{format: audio.DefaultFormat(), chunkMs: 0})
	require.Error(t, err)
}

func TestRunReplayRecordsThenInspect(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	speechPath := filepath.Join(dir, "speech.pcm")
	require.NoError(t, os.WriteFile(speechPath, pcm16(400, 10000), 0644))

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runReplay([]string{"--config", cfgPath, "--record", speechPath})
	})
	require.Equal(t, 0, code, "stderr: %s", stderr)

	var report struct {
		ID           string         `json:"id"`
		Context      map[string]any `json:"context"`
		Contributors []string       `json:"contributors"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.NotEmpty(t, report.ID)
	assert.Contains(t, report.Contributors, "stats")
	assert.EqualValues(t, 4, report.Context["speech_chunks"])

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runInspect([]string{"--config", cfgPath, report.ID})
	})
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "ID           : "+report.ID)
	assert.Contains(t, stdout, "Source       : replay")
}

func TestRunReplayUsage(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runReplay([]string{})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: hearken replay")
}

func TestRunParsers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runParsers([]string{"--config", cfgPath})
	})
	require.Equal(t, 0, code, "stderr: %s", stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 5)
	for i, name := range []string{"trim", "energy", "hotword", "stats"} {
		assert.Contains(t, lines[i+1], name)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runParsers([]string{"--config", cfgPath, "--json"})
	})
	require.Equal(t, 0, code)
	var doc struct {
		Loaded []struct {
			Name     string `json:"name"`
			Priority int    `json:"priority"`
		} `json:"loaded"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	require.Len(t, doc.Loaded, 4)
	assert.Equal(t, 20, doc.Loaded[0].Priority)
}

func TestRunConfigCheck(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", cfgPath, "--probe"})
	})
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Equal(t, "Configuration valid.\n", stdout)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(bad, 0755))
	badYAML := "state:\n  path: " + filepath.Join(bad, "h.db") + "\naudio_parsers:\n  parsers:\n    vad: {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(bad, "config.yaml"), []byte(badYAML), 0644))

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", filepath.Join(bad, "config.yaml"), "--json"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"valid": false`)
}

func TestRunConfigLock(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", cfgPath})
	})
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, filepath.Join(dir, ".checksums"))

	_, err := config.Load(cfgPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cfgPath, []byte("service:\n  name: tampered\n"), 0644))
	_, err = config.Load(cfgPath)
	require.Error(t, err)
}

func TestConfigNounUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"frobnicate"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action")
}
