package sandbox

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"coderelay/internal/language"
)

// Config controls how the container runtime is invoked.
type Config struct {
	Runtime        string
	MountPoint     string
	AllocateTTY    bool
	LaunchMode     string
	Shell          string
	ExtraArgs      []string
	Cols           uint16
	Rows           uint16
	TerminateGrace time.Duration
}

// BuildCommand returns the runtime argv for one run of spec with the
// workspace dir mounted.
func BuildCommand(cfg Config, spec language.Spec, dir, container string) []string {
	mount := cfg.MountPoint
	run := strings.NewReplacer(
		language.PlaceholderFile, path.Join(mount, spec.SourceFile()),
		language.PlaceholderDir, mount,
	).Replace(spec.RunCommand)

	args := []string{cfg.Runtime, "run", "--rm", "-i"}
	if cfg.AllocateTTY {
		args = append(args, "-t")
	}
	args = append(args,
		"--name", container,
		"-v", dir+":"+mount,
		"-w", mount,
	)
	args = append(args, cfg.ExtraArgs...)
	return append(args, spec.Image, "sh", "-c", run)
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ContainerName derives a runtime-valid container name for a session's n-th
// run.
func ContainerName(sessionID string, n uint64) string {
	return fmt.Sprintf("coderelay-%s-%d", unsafeNameChars.ReplaceAllString(sessionID, "_"), n)
}

var shellSafe = regexp.MustCompile(`^[a-zA-Z0-9_./:=@%+,-]+$`)

// ShellLine renders argv as a line typed into an interactive POSIX shell.
// The shell exits with the runtime's status.
func ShellLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ") + "; exit $?\r"
}

func shellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
