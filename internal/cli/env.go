// Package cli holds helpers shared by the pulse subcommands.
package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar overrides every other env file location when set.
const EnvFileVar = "PULSE_ENV_FILE"

// EnvLoader resolves which .env file to apply for a subcommand.
type EnvLoader struct {
	path     *string
	fallback string
}

// AddEnvFlag registers an --env flag on the flag set and returns a loader
// bound to it.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, usage string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if usage == "" {
		usage = "Path to the .env file"
	}

	return &EnvLoader{
		path:     fs.String("env", defaultPath, usage),
		fallback: defaultPath,
	}
}

// Load applies the first loadable env file and returns its path. Candidates
// are tried in override order: the EnvFileVar variable, the --env flag
// value, that value's basename in the working directory, then the default
// path. Already-set process variables are overridden so the file wins.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	requested := ""
	if l.path != nil {
		requested = strings.TrimSpace(*l.path)
	}

	candidates := candidatePaths(os.Getenv(EnvFileVar), requested, l.fallback)
	for _, path := range candidates {
		if err := godotenv.Overload(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no loadable env file among %s", strings.Join(candidates, ", "))
}

// candidatePaths builds the ordered, de-duplicated list of env file
// locations to try.
func candidatePaths(override, requested, fallback string) []string {
	if requested == "" {
		requested = fallback
	}

	ordered := []string{strings.TrimSpace(override), requested}
	if base := filepath.Base(requested); base != requested {
		ordered = append(ordered, base)
	}
	ordered = append(ordered, fallback)

	seen := make(map[string]struct{}, len(ordered))
	candidates := make([]string, 0, len(ordered))
	for _, path := range ordered {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}
	return candidates
}
