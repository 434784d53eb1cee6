// Package osinfo detects the platform of a remote host over an open
// transport and produces the descriptor used to pick the command dialect.
package osinfo

import (
	"context"
	"strings"

	"github.com/hoistdev/hoist/internal/transport"
)

// Platform is the coarse operating-system class of a target.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// Descriptor is the cached result of target-host platform detection.
type Descriptor struct {
	// Platform is the coarse OS class.
	Platform Platform

	// Family groups distributions (Debian, RedHat, Darwin, ...).
	Family string

	// Distribution is the os-release ID on Linux.
	Distribution string

	// Version is the distribution or product version.
	Version string

	// Arch is the normalized machine architecture.
	Arch string

	// Kernel is the kernel release string.
	Kernel string

	// PkgManager is the native package manager (apt, dnf, brew, ...).
	PkgManager string

	// Shell is the basename of the default login shell.
	Shell string

	// InitSystem is the service manager (systemd, openrc, launchd).
	InitSystem string
}

// IsWindows reports whether the target needs the PowerShell dialect.
func (d Descriptor) IsWindows() bool {
	return d.Platform == PlatformWindows
}

// Detect probes the target and builds its descriptor. A POSIX uname probe
// runs first; when it fails, a PowerShell probe decides whether the target
// is Windows. Probe failures beyond platform classification degrade to
// empty fields, never to an error.
func Detect(ctx context.Context, t transport.Transport) (Descriptor, error) {
	out, err := t.Exec(ctx, "uname -s")
	if err != nil {
		return Descriptor{}, err
	}

	if out.ExitCode != 0 {
		return detectWindows(ctx, t)
	}

	d := Descriptor{}
	switch strings.TrimSpace(out.Stdout) {
	case "Linux":
		d.Platform = PlatformLinux
		d.Family = "Linux"
		detectLinux(ctx, t, &d)
	case "Darwin":
		d.Platform = PlatformDarwin
		d.Family = "Darwin"
		d.PkgManager = "brew"
		d.InitSystem = "launchd"
		if out, err := t.Exec(ctx, "sw_vers -productVersion"); err == nil && out.ExitCode == 0 {
			d.Version = strings.TrimSpace(out.Stdout)
		}
	default:
		d.Platform = PlatformUnknown
	}

	detectCommon(ctx, t, &d)
	return d, nil
}

// detectWindows classifies a target whose uname probe failed.
func detectWindows(ctx context.Context, t transport.Transport) (Descriptor, error) {
	out, err := t.Exec(ctx, "powershell -NoLogo -NoProfile -NonInteractive -Command $PSVersionTable.PSVersion.Major")
	if err != nil {
		return Descriptor{}, err
	}
	if out.ExitCode != 0 {
		return Descriptor{Platform: PlatformUnknown}, nil
	}
	return Descriptor{
		Platform: PlatformWindows,
		Family:   "Windows",
		Shell:    "powershell",
		Version:  strings.TrimSpace(out.Stdout),
	}, nil
}

// detectLinux fills distribution, package manager, and init system.
func detectLinux(ctx context.Context, t transport.Transport, d *Descriptor) {
	if out, err := t.Exec(ctx, "cat /etc/os-release 2>/dev/null"); err == nil && out.ExitCode == 0 {
		release := ParseOSRelease(out.Stdout)
		d.Distribution = release["ID"]
		d.Version = release["VERSION_ID"]

		switch d.Distribution {
		case "ubuntu", "debian", "linuxmint", "pop":
			d.PkgManager = "apt"
			d.Family = "Debian"
		case "fedora", "rhel", "centos", "rocky", "almalinux":
			d.PkgManager = "dnf"
			d.Family = "RedHat"
		case "arch", "manjaro":
			d.PkgManager = "pacman"
			d.Family = "Arch"
		case "alpine":
			d.PkgManager = "apk"
			d.Family = "Alpine"
		case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles":
			d.PkgManager = "zypper"
			d.Family = "Suse"
		}
	}

	if out, err := t.Exec(ctx, "test -d /run/systemd/system"); err == nil && out.ExitCode == 0 {
		d.InitSystem = "systemd"
	} else if out, err := t.Exec(ctx, "command -v rc-service"); err == nil && out.ExitCode == 0 {
		d.InitSystem = "openrc"
	}
}

// detectCommon fills fields shared by all POSIX targets.
func detectCommon(ctx context.Context, t transport.Transport, d *Descriptor) {
	if out, err := t.Exec(ctx, "uname -m"); err == nil && out.ExitCode == 0 {
		d.Arch = normalizeArch(strings.TrimSpace(out.Stdout))
	}
	if out, err := t.Exec(ctx, "uname -r"); err == nil && out.ExitCode == 0 {
		d.Kernel = strings.TrimSpace(out.Stdout)
	}
	if out, err := t.Exec(ctx, "echo $SHELL"); err == nil && out.ExitCode == 0 {
		shell := strings.TrimSpace(out.Stdout)
		if idx := strings.LastIndex(shell, "/"); idx >= 0 {
			shell = shell[idx+1:]
		}
		d.Shell = shell
	}
}

// normalizeArch maps uname machine names onto Go-style arch names.
func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l":
		return "arm"
	default:
		return arch
	}
}

// ParseOSRelease parses /etc/os-release content into a key/value map.
func ParseOSRelease(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			result[key] = value
		}
	}
	return result
}
