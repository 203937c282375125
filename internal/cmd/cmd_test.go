package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/mrsync/internal/config"
	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/storage/sqlite"
	"github.com/banshee-data/mrsync/internal/monitoring"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns captured output.
// Flag values persist between Execute calls, so every flag is reset first.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "mrctl", rootCmd.Use)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"simulate", "report", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mrsync "), out)
}

func TestSimulate_Text(t *testing.T) {
	out, err := executeCommand(t, "simulate", "--frames", "60")
	require.NoError(t, err)

	assert.Contains(t, out, "SIMULATION SUMMARY")
	assert.Contains(t, out, "Frames:    60")
	assert.Contains(t, out, "Planes:    3 (1 merged)")
	assert.Contains(t, out, "Images:    1")
	assert.Contains(t, out, "Anchors:   2 (0 hosted, 0 host failures)")
	assert.Contains(t, out, "Light:     not_valid")
	assert.NotContains(t, out, "Recording:")
}

func simulateJSON(t *testing.T, args ...string) simSummary {
	t.Helper()
	out, err := executeCommand(t, append([]string{"simulate", "--json"}, args...)...)
	require.NoError(t, err, out)

	var s simSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s), out)
	return s
}

func TestSimulate_RecordsAndHosts(t *testing.T) {
	db := filepath.Join(t.TempDir(), "rec.db")
	s := simulateJSON(t, "--frames", "60", "--record", db, "--cloud")

	assert.Equal(t, 60, s.Frames)
	assert.Equal(t, 3, s.Planes)
	assert.Equal(t, 1, s.MergedPlanes)
	assert.Equal(t, 2, s.Anchors)
	assert.Equal(t, 2, s.AnchorsHosted)
	assert.Zero(t, s.HostFailures)
	assert.EqualValues(t, 2, s.Engine.CloudTasks)
	assert.Zero(t, s.Engine.ListenerFailures)
	assert.Equal(t, mixedreality.LightEstimateNotValid, s.Light.State)
	require.NotEmpty(t, s.Recording)
	assert.Zero(t, s.WriteFailures)

	store, err := sqlite.Open(db)
	require.NoError(t, err)
	defer store.Close()

	counts, err := store.EventCounts(s.Recording)
	require.NoError(t, err)
	assert.Equal(t, 3, counts["plane-detected"])
	assert.Equal(t, 1, counts["plane-merged"])
	assert.Equal(t, 1, counts["image-detected"])
	assert.Equal(t, 2, counts["anchor-cloud-task-complete"])

	anchors, err := store.Anchors(s.Recording)
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	for _, a := range anchors {
		assert.True(t, strings.HasPrefix(a.CloudAnchorID, "cloud-"), a.CloudAnchorID)
	}
}

func TestSimulate_FewFrames(t *testing.T) {
	s := simulateJSON(t, "--frames", "3")
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 1, s.Planes)
	assert.Equal(t, 1, s.Anchors)
	assert.Equal(t, mixedreality.LightEstimateValid, s.Light.State)
	assert.InDelta(t, 0.8, s.Light.PixelIntensity, 1e-9)
}

func TestSimulate_RejectsPlatform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"platform": "arkit"}`), 0o644))

	_, err := executeCommand(t, "simulate", "--config", path, "--frames", "1")
	assert.ErrorIs(t, err, config.ErrUnsupportedPlatform)
}

func TestSimulate_EnvOverride(t *testing.T) {
	t.Setenv("MRSYNC_AR_TO_VR_SCALE", "-1")
	_, err := executeCommand(t, "simulate", "--frames", "1")
	assert.ErrorContains(t, err, "ar_to_vr_scale")
}

func TestReport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "rec.db")
	s := simulateJSON(t, "--frames", "60", "--record", db)

	t.Run("latest", func(t *testing.T) {
		out, err := executeCommand(t, "report", "--db", db)
		require.NoError(t, err)
		assert.Contains(t, out, "SESSION REPORT")
		assert.Contains(t, out, s.Recording)
		assert.Contains(t, out, "plane-detected")
		assert.Contains(t, out, "floor-patch")
		assert.Contains(t, out, "Anchors: 2")
		assert.NotContains(t, out, "Wrote")
	})

	t.Run("outputs", func(t *testing.T) {
		outDir := filepath.Join(dir, "report")
		out, err := executeCommand(t, "report", "--db", db, "--session", s.Recording, "--out", outDir)
		require.NoError(t, err)

		png, err := os.ReadFile(filepath.Join(outDir, "planes-"+s.Recording+".png"))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

		page, err := os.ReadFile(filepath.Join(outDir, "events-"+s.Recording+".html"))
		require.NoError(t, err)
		assert.Contains(t, string(page), "plane-state-changed")
		assert.Equal(t, 2, strings.Count(out, "Wrote "))
	})

	t.Run("list", func(t *testing.T) {
		out, err := executeCommand(t, "report", "--db", db, "--list")
		require.NoError(t, err)
		assert.Contains(t, out, s.Recording)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := executeCommand(t, "report", "--db", db, "--session", "nope")
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("missing db", func(t *testing.T) {
		_, err := executeCommand(t, "report", "--db", filepath.Join(dir, "absent.db"))
		assert.Error(t, err)
	})

	t.Run("output outside allowed dirs", func(t *testing.T) {
		_, err := executeCommand(t, "report", "--db", db, "--out", "/proc/mrsync-report")
		assert.Error(t, err)
	})
}
