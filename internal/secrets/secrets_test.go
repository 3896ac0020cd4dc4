package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	t.Setenv("KINGA_TEST_TOKEN", "secret123")
	t.Setenv("KINGA_TEST_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "literal-value", "literal-value", false},
		{"variable", "${KINGA_TEST_TOKEN}", "secret123", false},
		{"prefix and suffix", "Bearer ${KINGA_TEST_TOKEN}!", "Bearer secret123!", false},
		{"default used", "${KINGA_TEST_UNSET:-fallback}", "fallback", false},
		{"empty default", "${KINGA_TEST_UNSET:-}", "", false},
		{"empty variable uses default", "${KINGA_TEST_EMPTY:-x}", "x", false},
		{"bare dollar kept", "pa$$word$KINGA_TEST_TOKEN", "pa$$word$KINGA_TEST_TOKEN", false},
		{"missing", "${KINGA_TEST_UNSET}", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "KINGA_TEST_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeSecret(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	return p
}

func TestReadFile(t *testing.T) {
	got, err := ReadFile(writeSecret(t, "s3cret value\n", 0o600))
	require.NoError(t, err)
	assert.Equal(t, "s3cret value", got)

	got, err = ReadFile(writeSecret(t, "readable\r\n", 0o644))
	require.NoError(t, err, "permissive files are only warned about")
	assert.Equal(t, "readable", got)
}

func TestReadFileErrors(t *testing.T) {
	big := make([]byte, maxSecretFileSize+1)
	for i := range big {
		big[i] = 'a'
	}

	tests := map[string]string{
		"empty path": "",
		"missing":    filepath.Join(t.TempDir(), "missing"),
		"directory":  t.TempDir(),
		"empty file": writeSecret(t, "\n", 0o600),
		"too large":  writeSecret(t, string(big), 0o600),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadFile(path)
			require.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("KINGA_TEST_TOKEN", "from-env")
	path := writeSecret(t, "from-file\n", 0o400)

	got, err := Resolve(FilePrefix + path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = Resolve("${KINGA_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestResolveAll(t *testing.T) {
	t.Setenv("KINGA_TEST_TOKEN", "resolved")
	jwt := "${KINGA_TEST_TOKEN}"
	password := "literal"
	empty := ""

	require.NoError(t, ResolveAll(map[string]*string{
		"security.jwt_secret":     &jwt,
		"database.mysql.password": &password,
		"sentry.dsn":              &empty,
		"unset":                   nil,
	}))
	assert.Equal(t, "resolved", jwt)
	assert.Equal(t, "literal", password)
	assert.Empty(t, empty)

	bad := "file:/nonexistent/secret"
	err := ResolveAll(map[string]*string{"notification.brevo.api_key": &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}
