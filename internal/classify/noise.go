package classify

import (
	"fmt"
	"regexp"
	"sort"
)

// Lines every container runtime prints before the program starts: the echoed
// invocation and image pull progress.
var runtimeNoise = []string{
	`\bdocker run\b`,
	`\bpodman run\b`,
	`^Unable to find image '.*' locally$`,
	`^[0-9a-z.\-]+: Pulling from `,
	`^[0-9a-f]{12}: (Pulling fs layer|Waiting|Downloading|Verifying Checksum|Download complete|Extracting|Pull complete|Already exists)`,
	`^Digest: sha256:[0-9a-f]+$`,
	`^Status: (Downloaded newer image|Image is up to date) for `,
	`^WARNING: The requested image's platform `,
}

// profiles holds the host-shell noise per deployment OS.
var profiles = map[string][]string{
	"linux": {
		`^\S+@\S+:[^$#]*[$#]\s*`,
		`^bash-\d+(\.\d+)*[$#]\s*`,
		`^sh-\d+(\.\d+)*[$#]\s*`,
		`^[$#]\s*$`,
		`^bash: cannot set terminal process group`,
		`^bash: no job control in this shell`,
	},
	"darwin": {
		`^\S+@\S+ [^%$#]*[%$#]\s*`,
		`^The default interactive shell is now zsh`,
		`^To update your account to use zsh, please run`,
		`^For more details, please visit https://support\.apple\.com`,
		`^[%$#]\s*$`,
	},
	"windows": {
		`Microsoft`,
		`cmd\.exe`,
		`^\(c\) .*Corporation`,
		`^[A-Za-z]:\\[^>]*>`,
		`^PS [A-Za-z]:\\[^>]*>`,
		`^Copyright \(C\) Microsoft`,
		`^Install the latest PowerShell`,
	},
}

// Profiles lists the known noise profiles.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoiseFilter matches lines produced by the execution environment rather
// than by the program. The pattern set is fixed at construction.
type NoiseFilter struct {
	profile  string
	patterns []*regexp.Regexp
}

// NewNoiseFilter compiles the runtime patterns, the named profile and extra
// patterns. Unknown profiles get only the runtime and extra patterns.
func NewNoiseFilter(profile string, extra []string) (*NoiseFilter, error) {
	srcs := append([]string{}, runtimeNoise...)
	srcs = append(srcs, profiles[profile]...)
	srcs = append(srcs, extra...)

	f := &NoiseFilter{profile: profile, patterns: make([]*regexp.Regexp, 0, len(srcs))}
	for _, src := range srcs {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("noise pattern %q: %w", src, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// MustNoiseFilter is NewNoiseFilter for patterns known to compile.
func MustNoiseFilter(profile string, extra ...string) *NoiseFilter {
	f, err := NewNoiseFilter(profile, extra)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *NoiseFilter) Profile() string { return f.profile }

// Match reports whether line is environment noise.
func (f *NoiseFilter) Match(line string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
