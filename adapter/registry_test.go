package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/errdefs"
)

// TestRegistryUnsupportedLanguage verifies unknown tags fail with the
// UNSUPPORTED_LANGUAGE code and name the supported set.
func TestRegistryUnsupportedLanguage(t *testing.T) {
	_, err := New("cobol", Options{})
	require.Error(t, err)
	require.Equal(t, errdefs.CodeUnsupportedLanguage, errdefs.Code(err))

	var coded *errdefs.Error
	require.ErrorAs(t, err, &coded)
	require.Contains(t, coded.Details["supported"], "python")
}

// TestRegistryAliases verifies the language tag aliases resolve to the
// registered driver families.
func TestRegistryAliases(t *testing.T) {
	cases := map[string]Language{
		"python":     LangPython,
		"go":         LangGo,
		"node":       LangJavaScript,
		"typescript": LangJavaScript,
		"javascript": LangJavaScript,
		"rust":       LangNative,
		"cpp":        LangNative,
		"c":          LangNative,
		"PYTHON":     LangPython,
	}

	for tag, want := range cases {
		driver, err := New(tag, Options{})
		require.NoError(t, err, "tag %q", tag)
		require.Equal(t, want, driver.Language(), "tag %q", tag)
	}
}

// TestRegistrySupported verifies every built-in tag reports as supported.
func TestRegistrySupported(t *testing.T) {
	supported := Supported()
	for _, tag := range []string{"python", "go", "javascript", "rust"} {
		require.Contains(t, supported, tag)
		require.True(t, IsSupported(tag))
	}
	require.False(t, IsSupported("cobol"))
}
