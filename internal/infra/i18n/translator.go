// Package i18n holds the user-facing texts of the chat, keyed by stable ids.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

const DefaultLang = "en"

type Translator struct {
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(data)
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the text for key, formatted with args. Unknown keys come back as-is.
func (t *Translator) T(key string, args ...any) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

var (
	defaultOnce sync.Once
	defaultTr   *Translator
)

// Default is the embedded English catalog.
func Default() *Translator {
	defaultOnce.Do(func() {
		tr, err := NewTranslator(LocalesFS, DefaultLang)
		if err != nil {
			panic(err)
		}
		defaultTr = tr
	})
	return defaultTr
}

// T translates with the default catalog.
func T(key string, args ...any) string { return Default().T(key, args...) }
