package cli

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{"validate", "resolve", "lock", "inspect", "clone"}
	for _, name := range expected {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestRootCommandPersistentFlags(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"config", "log-level", "declaration", "cache-dir", "cache-redis-url", "vcs-timeout"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag: %s", name)
	}
	assert.Equal(t, defaultDeclaration, root.PersistentFlags().Lookup("declaration").DefValue)
	assert.Equal(t, "300", root.PersistentFlags().Lookup("vcs-timeout").DefValue)
}

func TestResolveCommandFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{newResolveCommand(), newLockCommand()} {
		flags := []string{"manifest-dir", "jobs", "dry-run", "http-proxy", "http-timeout"}
		for _, name := range flags {
			flag := cmd.Flags().Lookup(name)
			assert.NotNil(t, flag, "%s: missing flag: %s", cmd.Name(), name)
		}
		assert.Equal(t, "1", cmd.Flags().Lookup("jobs").DefValue)
		assert.Equal(t, "60", cmd.Flags().Lookup("http-timeout").DefValue)
		assert.Contains(t, cmd.Short, "comments")
	}
}

func TestDefaultCacheDir(t *testing.T) {
	dir := defaultCacheDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, filepath.Base(dir), "flakepin")
}

// ---------- Command runs ----------

func fixtureDeclaration(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "fixtures", "flakepin.toml"))
	require.NoError(t, err)
	return path
}

func TestValidateCommandRunsOffline(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{
		"validate",
		"--declaration", fixtureDeclaration(t),
		"--cache-dir", t.TempDir(),
		"--log-level", "error",
	})
	require.NoError(t, root.Execute())
}

func TestInspectCommandRunsOffline(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{
		"inspect",
		"--declaration", fixtureDeclaration(t),
		"--cache-dir", t.TempDir(),
		"--log-level", "error",
	})
	require.NoError(t, root.Execute())
}

func TestValidateCommandMissingDeclaration(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{
		"validate",
		"--declaration", filepath.Join(t.TempDir(), "missing.toml"),
		"--log-level", "error",
	})
	root.SetErr(io.Discard)
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, 4, exitCodeForError(err))
}

func TestUnreadableConfigFile(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{
		"validate",
		"--config", filepath.Join(t.TempDir(), "nope.yaml"),
		"--declaration", fixtureDeclaration(t),
	})
	root.SetErr(io.Discard)
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
	assert.Equal(t, "failed to read config file", errorMessage(err))
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "flakepin_test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStringPrefersChangedFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("manifest-dir", "", "")
	require.NoError(t, cmd.Flags().Set("manifest-dir", "out"))
	assert.Equal(t, "out", resolveString(cmd, "out", "flakepin_test_manifest_dir", "manifest-dir"))
}

func TestResolveBool(t *testing.T) {
	got := resolveBool(nil, true, "test_key", "test-flag")
	assert.True(t, got)

	got = resolveBool(nil, false, "test_key", "test-flag")
	assert.False(t, got)
}

func TestResolveInt(t *testing.T) {
	got := resolveInt(nil, 42, "test_key", "test-flag")
	assert.Equal(t, 42, got)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("jobs", 1, "")
	require.NoError(t, cmd.Flags().Set("jobs", "8"))
	assert.Equal(t, 8, resolveInt(cmd, 8, "flakepin_test_jobs", "jobs"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")
	assert.False(t, flagChanged(cmd, "  "), "blank name")
}

func TestFlagChangedAfterSet(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestFlagChangedPersistent(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.PersistentFlags().String("declaration", "", "")
	require.NoError(t, cmd.PersistentFlags().Set("declaration", "x.toml"))
	assert.True(t, flagChanged(cmd, "declaration"))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("reference \"./x\" is not a supported locator"),
			expected: 2,
		},
		{
			name: "already exists",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("input name nixpkgs is used twice"),
			expected: 2,
		},
		{
			name: "ambiguous default branch",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("cannot tell the default branch of https://example.com/x.git"),
			expected: 3,
		},
		{
			name: "no matching tag",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("no tag matches ^v"),
			expected: 3,
		},
		{
			name: "permission denied",
			err: errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("nope"),
			expected: 3,
		},
		{
			name: "tag not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("tag \"v9\" not found"),
			expected: 4,
		},
		{
			name: "transport failure",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to list remote refs"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
