package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/nvxinlet"
	"github.com/usnistgov/nvxinlet/recorder"
)

func TestMakeFileExist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	name, err := makeFileExist(dir, "x.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.yaml"), name)
	require.NoError(t, os.WriteFile(name, []byte("keep: me\n"), 0664))

	// A second call must not truncate the file.
	_, err = makeFileExist(dir, "x.yaml")
	require.NoError(t, err)
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "keep: me\n", string(data))

	t.Setenv("HOME", t.TempDir())
	name, err = makeFileExist("$HOME/.nvxinlet", "config.yaml")
	require.NoError(t, err)
	assert.NotContains(t, name, "$HOME")
}

func TestSetupViper(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("inlet:\n  targetrate: 250\nacquire:\n  pullinterval: 40ms\n"), 0664))
	v := viper.New()
	require.NoError(t, setupViper(v, dir))
	config, err := nvxinlet.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), config.TargetRate)
	assert.Equal(t, 10*time.Second, config.BufferTime)
	assert.Equal(t, 40*time.Millisecond, v.GetDuration(keyPullInterval))
	assert.Equal(t, 5*time.Second, v.GetDuration(keyDBTimeout))
	assert.Empty(t, v.GetString(keyPublish))
}

func emulatedViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	require.NoError(t, setupViper(v, t.TempDir()))
	v.Set(nvxinlet.ConfigKey+".emulation", true)
	v.Set(nvxinlet.ConfigKey+".targetrate", 500)
	v.Set(nvxinlet.ConfigKey+".emulator.eeg", 8)
	v.Set(nvxinlet.ConfigKey+".emulator.aux", 2)
	v.Set(keyPullInterval, "20ms")
	return v
}

func TestAcquireToRecording(t *testing.T) {
	v := emulatedViper(t)
	path := filepath.Join(t.TempDir(), "run.npy")
	var out bytes.Buffer
	err := acquire(context.Background(), v, acquireOptions{duration: 300 * time.Millisecond, record: path}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Recording to "+path)
	assert.Contains(t, out.String(), "at 500 Hz (source 10000 Hz)")

	m, err := recorder.ReadFile(path)
	require.NoError(t, err)
	require.NotNil(t, m)
	rows, cols := m.Dims()
	assert.Equal(t, 8+2+2, cols)
	assert.Greater(t, rows, 50, "about 150 samples expected in 300 ms at 500 Hz")
	for i := 0; i < rows; i++ {
		counter := uint32(m.At(i, cols-1))
		if counter%20 != 0 {
			t.Errorf("row %d has counter %d, want a multiple of 20", i, counter)
			break
		}
	}

	var shown bytes.Buffer
	require.NoError(t, showRecording(path, nvxinlet.Layout{EEGCount: 8, AuxCount: 2}, &shown))
	assert.Contains(t, shown.String(), "COUNTER")
	assert.Error(t, showRecording(path, nvxinlet.Layout{EEGCount: 32, AuxCount: 8}, &shown))
}

func TestAcquireConfigErrors(t *testing.T) {
	v := emulatedViper(t)
	v.Set(nvxinlet.ConfigKey+".emulation", false)
	err := acquire(context.Background(), v, acquireOptions{}, io.Discard)
	assert.ErrorIs(t, err, nvxinlet.ErrConfiguration, "no hardware driver")

	v = emulatedViper(t)
	v.Set(keyPullInterval, "0s")
	err = acquire(context.Background(), v, acquireOptions{}, io.Discard)
	assert.ErrorIs(t, err, nvxinlet.ErrConfiguration)

	v = emulatedViper(t)
	v.Set(nvxinlet.ConfigKey+".targetrate", 20000)
	err = acquire(context.Background(), v, acquireOptions{}, io.Discard)
	assert.ErrorIs(t, err, nvxinlet.ErrConfiguration, "target above the source rate")
}

func TestServeMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := serveMetrics(ctx, "127.0.0.1:0", registry)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCommands(t *testing.T) {
	var out bytes.Buffer
	root := rootCommand(viper.New())
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "This is nvxinlet version "+nvxinlet.Build.Version)

	saved := [2]*log.Logger{nvxinlet.ProblemLogger, nvxinlet.UpdateLogger}
	defer func() { nvxinlet.ProblemLogger, nvxinlet.UpdateLogger = saved[0], saved[1] }()

	dir := t.TempDir()
	out.Reset()
	root = rootCommand(viper.New())
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"devices", "--dir", dir, "--emulate"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "1 device(s) found"))
	assert.Contains(t, out.String(), "CountEEG")
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "logs", "problems.log"))

	root = rootCommand(viper.New())
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"devices", "--dir", t.TempDir()})
	assert.ErrorIs(t, root.Execute(), nvxinlet.ErrConfiguration, "no hardware and no --emulate")
}
