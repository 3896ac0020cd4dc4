// Package secrets resolves credential values from configuration. A value is
// either a literal, a "file:" reference to a mounted secret (Docker or
// Kubernetes) or a string with ${VAR} and ${VAR:-default} references.
//
// Secret values are never logged.
package secrets

import (
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

const (
	// FilePrefix marks a value read from a file.
	FilePrefix = "file:"

	// secrets are tokens and passwords, not documents
	maxSecretFileSize = 64 * 1024
)

// varPattern matches ${VAR} and ${VAR:-default}. A bare '$' is left alone
// because passwords may contain it.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandString replaces ${VAR} references with environment values. A
// reference without a default to an unset variable is an error.
//
//	"literal"            -> "literal"
//	"${TOKEN}"           -> value of TOKEN
//	"${TOKEN:-fallback}" -> value of TOKEN, or "fallback" when unset
func ExpandString(s string) (string, error) {
	var missing []string
	out := varPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := varPattern.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return ""
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return out, nil
}

// ReadFile reads a secret file. Trailing newlines are trimmed; the file must
// be a small, non-empty regular file. Group or world readable files are
// accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", configErrorf(path, "secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", configError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", configErrorf(clean, "secret path is not a regular file")
	}
	if info.Size() > maxSecretFileSize {
		return "", configErrorf(clean, "secret file larger than %d bytes", maxSecretFileSize)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean) //nolint:gosec // operator supplied secret path
	if err != nil {
		return "", configError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", configErrorf(clean, "secret file is empty")
	}
	return secret, nil
}

// Resolve returns the secret that value refers to. Empty stays empty.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	return ExpandString(value)
}

// ResolveAll resolves every named field in place. The first failure is
// returned with the field name; the secret itself is never included.
func ResolveAll(fields map[string]*string) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		ptr := fields[name]
		if ptr == nil || *ptr == "" {
			continue
		}
		v, err := Resolve(*ptr)
		if err != nil {
			return errors.New(err).
				Component("secrets").
				Category(errors.CategoryConfiguration).
				Context("field", name).
				Build()
		}
		*ptr = v
	}
	return nil
}

func configError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}

func configErrorf(path, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
