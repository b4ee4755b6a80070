// Package messages holds the fixed, localized sentences shown to users for
// each failure category.
package messages

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"dify-chat/internal/llm"
)

// reasonPlaceholder in a sentence is replaced by the failure reason.
const reasonPlaceholder = "{reason}"

var builtin = map[language.Tag]map[llm.Category]string{
	language.Japanese: {
		llm.CategoryOverloaded:    "サーバーが混み合っています。しばらく時間をおいて再度お試しください。",
		llm.CategoryQuotaExceeded: "本日の利用上限に達しました。明日以降に再度お試しください。",
		llm.CategoryRateLimited:   "リクエストが集中しています。少し待ってから再度お試しください。",
		llm.CategoryTimeout:       "リクエストがタイムアウトしました。しばらく時間をおいて再度お試しください。",
		llm.CategoryGatewayError:  "サーバーとの通信でエラーが発生しました。しばらく時間をおいて再度お試しください。",
		llm.CategoryParseError:    "サーバーからの応答を読み取れませんでした。",
		llm.CategoryUnknown:       "エラーが発生しました。{reason}",
	},
	language.English: {
		llm.CategoryOverloaded:    "The server is busy. Please try again later.",
		llm.CategoryQuotaExceeded: "The daily usage limit has been reached. Please try again tomorrow.",
		llm.CategoryRateLimited:   "Too many requests. Please wait a moment and try again.",
		llm.CategoryTimeout:       "The request timed out. Please try again later.",
		llm.CategoryGatewayError:  "Could not reach the answer server. Please try again later.",
		llm.CategoryParseError:    "The server response could not be read.",
		llm.CategoryUnknown:       "Something went wrong. {reason}",
	},
}

// Catalog picks a sentence per category and language.
type Catalog struct {
	tags     []language.Tag
	texts    map[language.Tag]map[llm.Category]string
	matcher  language.Matcher
	fallback language.Tag
}

// New returns the built-in catalog with lang as the default language.
func New(lang string) *Catalog {
	c := &Catalog{texts: make(map[language.Tag]map[llm.Category]string)}
	for tag, texts := range builtin {
		c.set(tag, texts)
	}
	c.rebuild(lang)
	return c
}

// LoadFile merges sentence overrides from a YAML file shaped as
// language -> category -> sentence, e.g. `ja: {quota_exceeded: "..."}`.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read messages file: %w", err)
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse messages file: %w", err)
	}
	for lang, entries := range raw {
		tag, err := language.Parse(lang)
		if err != nil {
			return fmt.Errorf("messages file: invalid language %q: %w", lang, err)
		}
		texts := make(map[llm.Category]string, len(entries))
		for key, text := range entries {
			cat := llm.Category(key)
			if !known(cat) {
				return fmt.Errorf("messages file: unknown category %q", key)
			}
			texts[cat] = text
		}
		c.set(tag, texts)
	}
	c.rebuild(c.fallback.String())
	return nil
}

// Message implements llm.Localizer using the default language.
func (c *Catalog) Message(cat llm.Category, reason string) string {
	return c.render(c.fallback, cat, reason)
}

// ForAcceptLanguage renders the sentence in the best language for an
// Accept-Language header, falling back to the default language.
func (c *Catalog) ForAcceptLanguage(header string, cat llm.Category, reason string) string {
	prefs, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(prefs) == 0 {
		return c.Message(cat, reason)
	}
	_, idx, conf := c.matcher.Match(prefs...)
	if conf == language.No {
		return c.Message(cat, reason)
	}
	return c.render(c.tags[idx], cat, reason)
}

func (c *Catalog) render(tag language.Tag, cat llm.Category, reason string) string {
	text, ok := c.texts[tag][cat]
	if !ok {
		text = c.texts[baseTag(language.English)][cat]
	}
	if text == "" {
		text = c.texts[tag][llm.CategoryUnknown]
	}
	return strings.TrimSpace(strings.ReplaceAll(text, reasonPlaceholder, reason))
}

func (c *Catalog) set(tag language.Tag, texts map[llm.Category]string) {
	tag = baseTag(tag)
	dst, ok := c.texts[tag]
	if !ok {
		dst = make(map[llm.Category]string, len(texts))
		c.texts[tag] = dst
	}
	for cat, text := range texts {
		dst[cat] = text
	}
}

// rebuild orders tags with the default language first so the matcher falls back to it.
func (c *Catalog) rebuild(lang string) {
	def := baseTag(language.Japanese)
	if tag, err := language.Parse(lang); err == nil {
		if _, ok := c.texts[baseTag(tag)]; ok {
			def = baseTag(tag)
		}
	}
	c.fallback = def
	c.tags = []language.Tag{def}
	for tag := range c.texts {
		if tag != def {
			c.tags = append(c.tags, tag)
		}
	}
	c.matcher = language.NewMatcher(c.tags)
}

// baseTag reduces a tag to its language so "en-US" and "en" share entries.
func baseTag(tag language.Tag) language.Tag {
	base, _ := tag.Base()
	return language.Make(base.String())
}

func known(cat llm.Category) bool {
	for _, c := range llm.Categories {
		if c == cat {
			return true
		}
	}
	return false
}
