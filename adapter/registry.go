package adapter

import (
	"sort"
	"strings"
	"sync"

	"github.com/roasbeef/dap-relay/errdefs"
)

// Constructor builds a driver bound to one session.
type Constructor func(opts Options) Driver

var (
	registryMu sync.RWMutex
	registry   = make(map[Language]Constructor)

	// aliases maps user-facing language tags onto registered drivers.
	aliases = map[string]Language{
		"python":     LangPython,
		"go":         LangGo,
		"javascript": LangJavaScript,
		"typescript": LangJavaScript,
		"node":       LangJavaScript,
		"rust":       LangNative,
		"c":          LangNative,
		"cpp":        LangNative,
		"native":     LangNative,
	}
)

// Register installs a driver constructor for a language. Drivers register
// themselves from init; registering twice replaces the earlier entry.
func Register(lang Language, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[lang] = ctor
}

// New constructs the driver for the given language tag. Unknown or
// unregistered tags fail with UNSUPPORTED_LANGUAGE.
func New(language string, opts Options) (Driver, error) {
	tag := strings.ToLower(language)
	lang, ok := aliases[tag]
	if !ok {
		// Registered languages resolve directly even without an alias.
		lang = Language(tag)
	}

	registryMu.RLock()
	ctor, ok := registry[lang]
	registryMu.RUnlock()
	if !ok {
		return nil, errdefs.UnsupportedLanguage(language, Supported())
	}

	return ctor(opts), nil
}

// Supported lists the language tags that resolve to a registered driver.
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var langs []string
	for tag, lang := range aliases {
		if _, ok := registry[lang]; ok {
			langs = append(langs, tag)
		}
	}
	sort.Strings(langs)
	return langs
}

// IsSupported reports whether a language tag has a registered driver.
func IsSupported(language string) bool {
	lang, ok := aliases[strings.ToLower(language)]
	if !ok {
		return false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok = registry[lang]
	return ok
}
