// Package voices resolves which TTS voices narrate a lesson and which pool a
// narrow-listening pack rotates through, per provider and language.
package voices

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/course/script"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

const wildcardLanguage = "*"

//go:embed voices.yaml
var defaultCatalog []byte

type languageVoices struct {
	Narrator    string          `yaml:"narrator"`
	Learner     string          `yaml:"learner"`
	Counterpart string          `yaml:"counterpart"`
	Pool        []lessons.Voice `yaml:"pool"`
}

type catalogFile struct {
	Version   int                                  `yaml:"version"`
	Providers map[string]map[string]languageVoices `yaml:"providers"`
}

// Catalog is the voice table for one TTS provider.
type Catalog struct {
	Provider  string
	languages map[string]languageVoices
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string, provider string) (*Catalog, error) {
	data := defaultCatalog
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read voice catalog %s: %w", p, err)
		}
		data = b
	}
	return Parse(data, provider)
}

func Parse(data []byte, provider string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse voice catalog: %w", err)
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	langs, ok := f.Providers[provider]
	if !ok || len(langs) == 0 {
		return nil, fmt.Errorf("voice catalog has no entries for provider %q", provider)
	}
	normalized := make(map[string]languageVoices, len(langs))
	for code, lv := range langs {
		for i := range lv.Pool {
			lv.Pool[i].Gender = lessons.NormalizeGender(string(lv.Pool[i].Gender))
		}
		normalized[baseLanguage(code)] = lv
	}
	return &Catalog{Provider: provider, languages: normalized}, nil
}

// baseLanguage reduces "ja-JP" to "ja".
func baseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

func (c *Catalog) lookup(lang string) (languageVoices, bool) {
	if lv, ok := c.languages[baseLanguage(lang)]; ok {
		return lv, true
	}
	lv, ok := c.languages[wildcardLanguage]
	return lv, ok
}

// Pool returns the narrow-listening voice pool for lang.
func (c *Catalog) Pool(lang string) ([]lessons.Voice, error) {
	lv, ok := c.lookup(lang)
	if !ok || len(lv.Pool) == 0 {
		return nil, apperr.Precondition("no %s voices configured for language %q", c.Provider, lang)
	}
	out := make([]lessons.Voice, len(lv.Pool))
	copy(out, lv.Pool)
	return out, nil
}

// VoiceContext picks the narrator from the native language and the learner and
// counterpart voices from the target language. Missing learner or counterpart
// entries fall back to the first pool voices.
func (c *Catalog) VoiceContext(target, native string) (script.VoiceContext, error) {
	nl, ok := c.lookup(native)
	if !ok {
		return script.VoiceContext{}, apperr.Precondition("no %s narrator configured for language %q", c.Provider, native)
	}
	narrator := nl.Narrator
	if narrator == "" && len(nl.Pool) > 0 {
		narrator = nl.Pool[0].ID
	}
	tl, ok := c.lookup(target)
	if !ok {
		return script.VoiceContext{}, apperr.Precondition("no %s voices configured for language %q", c.Provider, target)
	}
	learner, counterpart := tl.Learner, tl.Counterpart
	if learner == "" && len(tl.Pool) > 0 {
		learner = tl.Pool[0].ID
	}
	if counterpart == "" {
		counterpart = learner
		for _, v := range tl.Pool {
			if v.ID != learner {
				counterpart = v.ID
				break
			}
		}
	}
	if narrator == "" || learner == "" {
		return script.VoiceContext{}, apperr.Precondition("incomplete %s voice entry for %s/%s", c.Provider, target, native)
	}
	return script.VoiceContext{
		TargetLanguage:     target,
		NativeLanguage:     native,
		NarratorVoiceID:    narrator,
		L2VoiceID:          learner,
		CounterpartVoiceID: counterpart,
	}, nil
}
