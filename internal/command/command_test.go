package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/pkg/osinfo"
)

var (
	linuxBash = osinfo.Descriptor{Platform: osinfo.PlatformLinux, Shell: "bash"}
	linuxSh   = osinfo.Descriptor{Platform: osinfo.PlatformLinux, Shell: "sh"}
	windows   = osinfo.Descriptor{Platform: osinfo.PlatformWindows, Shell: "powershell"}
)

func TestQuotePOSIX(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "'hello'"},
		{"spaces", "hello world", "'hello world'"},
		{"single quote", "it's", `'it'\''s'`},
		{"only quote", "'", `''\'''`},
		{"metacharacters untouched", "a;b|c$d", "'a;b|c$d'"},
		{"empty", "", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuotePOSIX(tt.input))
		})
	}
}

func TestQuotePowerShell(t *testing.T) {
	assert.Equal(t, "'hello'", QuotePowerShell("hello"))
	assert.Equal(t, "'it''s'", QuotePowerShell("it's"))
	assert.Equal(t, "''''", QuotePowerShell("'"))
}

func TestBuildPOSIX(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		cwd  string
		env  map[string]string
		os   osinfo.Descriptor
		want string
	}{
		{
			name: "bare command under bash",
			cmd:  "echo hi",
			os:   linuxBash,
			want: "bash -lc 'echo hi'",
		},
		{
			name: "bare command under sh",
			cmd:  "echo hi",
			os:   linuxSh,
			want: "sh -lc 'echo hi'",
		},
		{
			name: "unknown shell falls back to sh",
			cmd:  "echo hi",
			os:   osinfo.Descriptor{Platform: osinfo.PlatformLinux, Shell: "zsh"},
			want: "sh -lc 'echo hi'",
		},
		{
			name: "cwd prefix",
			cmd:  "ls",
			cwd:  "/var/log",
			os:   linuxSh,
			want: "sh -lc 'cd '\\''/var/log'\\'' && ls'",
		},
		{
			name: "env vars rendered sorted",
			cmd:  "env",
			env:  map[string]string{"B": "2", "A": "1"},
			os:   linuxSh,
			want: "sh -lc 'A='\\''1'\\'' B='\\''2'\\'' env'",
		},
		{
			name: "command with embedded quote",
			cmd:  "echo 'hi there'",
			os:   linuxSh,
			want: "sh -lc 'echo '\\''hi there'\\'''",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.cmd, tt.cwd, tt.env, tt.os))
		})
	}
}

func TestBuildPowerShell(t *testing.T) {
	got := Build("Get-Process", "", nil, windows)
	assert.Equal(t,
		"powershell -NoLogo -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command 'Get-Process'",
		got)
}

func TestBuildPowerShellCwdAndEnv(t *testing.T) {
	got := Build("dir", `C:\temp`, map[string]string{"FOO": "it's"}, windows)
	assert.Equal(t,
		`powershell -NoLogo -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command '$env:FOO = ''it''''s''; Set-Location -Path ''C:\temp''; dir'`,
		got)
}

func TestBuildSudoWithPassword(t *testing.T) {
	got, err := BuildSudo("whoami", "s3cret", "", nil, linuxSh)
	require.NoError(t, err)
	assert.Equal(t, `sh -lc 'echo '\''s3cret'\'' | sudo -S -n whoami'`, got)
}

func TestBuildSudoWithoutPassword(t *testing.T) {
	got, err := BuildSudo("whoami", "", "", nil, linuxSh)
	require.NoError(t, err)
	assert.Equal(t, "sh -lc 'sudo -n whoami'", got)
}

func TestBuildSudoWithCwd(t *testing.T) {
	got, err := BuildSudo("ls", "", "/root", nil, linuxSh)
	require.NoError(t, err)
	assert.Equal(t, `sh -lc 'cd '\''/root'\'' && sudo -n ls'`, got)
}

func TestBuildSudoWindowsFails(t *testing.T) {
	_, err := BuildSudo("whoami", "pw", "", nil, windows)
	require.Error(t, err)
	assert.True(t, hoisterr.IsKind(err, hoisterr.KindBadRequest))
}

// The POSIX quoting must survive a shell round-trip: the built invocation
// hands the original string through as a single argument. This asserts
// the rewritten text; the integration suite echoes the same hostile
// string back through a real shell.
func TestQuotePOSIXRoundTripShape(t *testing.T) {
	hostile := `it's a "test" $(rm -rf /) ; | & > <`
	quoted := QuotePOSIX(hostile)

	// The only unquoted characters are the splice sequences.
	assert.Equal(t, `'it'\''s a "test" $(rm -rf /) ; | & > <'`, quoted)
}
