// Package command builds exact shell invocations for remote targets.
//
// Build is a pure function: any command string can be embedded safely,
// there is no failure path, and no state is carried between calls. The
// quoting performs shell-level isolation only; it does not sandbox the
// command semantically.
package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hoistdev/hoist/internal/hoisterr"
	"github.com/hoistdev/hoist/pkg/osinfo"
)

// Build composes the full shell invocation for cmd on the target described
// by os. cwd and env are optional.
func Build(cmd, cwd string, env map[string]string, os osinfo.Descriptor) string {
	if os.IsWindows() {
		return buildPowerShell(cmd, cwd, env)
	}
	return buildPOSIX(cmd, cwd, env, os)
}

// BuildSudo composes a POSIX privilege-escalation invocation. Without a
// password the command runs under `sudo -n`, which fails instead of
// prompting when NOPASSWD is not configured. Windows targets are rejected.
func BuildSudo(cmd, password, cwd string, env map[string]string, os osinfo.Descriptor) (string, error) {
	if os.IsWindows() {
		return "", hoisterr.New(hoisterr.KindBadRequest,
			"sudo is not supported on Windows targets").
			WithHint("use exec with an administrator account instead")
	}

	var escalated string
	if password != "" {
		escalated = fmt.Sprintf("echo %s | sudo -S -n %s", QuotePOSIX(password), cmd)
	} else {
		escalated = fmt.Sprintf("sudo -n %s", cmd)
	}

	return buildPOSIX(escalated, cwd, env, os), nil
}

// buildPOSIX renders env assignments and the cwd change, then wraps the
// composed line in a login shell so PATH matches an interactive login.
func buildPOSIX(cmd, cwd string, env map[string]string, os osinfo.Descriptor) string {
	var sb strings.Builder

	if cwd != "" {
		sb.WriteString("cd ")
		sb.WriteString(QuotePOSIX(cwd))
		sb.WriteString(" && ")
	}

	for _, k := range sortedKeys(env) {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(QuotePOSIX(env[k]))
		sb.WriteString(" ")
	}

	sb.WriteString(cmd)

	shell := "sh"
	if os.Shell == "bash" {
		shell = "bash"
	}

	return fmt.Sprintf("%s -lc %s", shell, QuotePOSIX(sb.String()))
}

// buildPowerShell renders the script as semicolon-separated statements and
// hands it to powershell with profile and policy checks disabled.
func buildPowerShell(cmd, cwd string, env map[string]string) string {
	var stmts []string

	for _, k := range sortedKeys(env) {
		stmts = append(stmts, fmt.Sprintf("$env:%s = %s", k, QuotePowerShell(env[k])))
	}

	if cwd != "" {
		stmts = append(stmts, "Set-Location -Path "+QuotePowerShell(cwd))
	}

	stmts = append(stmts, cmd)
	script := strings.Join(stmts, "; ")

	return "powershell -NoLogo -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command " +
		QuotePowerShell(script)
}

// QuotePOSIX wraps s in single quotes. Embedded single quotes become the
// close-escape-reopen splice, the only rewrite the POSIX shell needs.
func QuotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuotePowerShell wraps s in single quotes, doubling embedded quotes.
func QuotePowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sortedKeys returns env keys in stable order so built invocations are
// deterministic.
func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
