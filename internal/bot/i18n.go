package bot

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog holds the bot's user-facing strings per language. The first
// language loaded is the fallback.
type Catalog struct {
	tags     []language.Tag
	messages []map[string]string
	matcher  language.Matcher
}

// LoadCatalog reads the embedded locales/<lang>.yaml files. English is
// always first so that it wins for unmatched locales.
func LoadCatalog() (*Catalog, error) {
	c := &Catalog{}
	for _, lang := range []string{"en", "ru"} {
		raw, err := localeFS.ReadFile(path.Join("locales", lang+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", lang, err)
		}
		var msgs map[string]string
		if err := yaml.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", lang, err)
		}
		c.tags = append(c.tags, language.MustParse(lang))
		c.messages = append(c.messages, msgs)
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// For returns a Localizer for a client locale such as "ru-RU". Unknown or
// empty locales get the fallback language.
func (c *Catalog) For(locale string) Localizer {
	idx := 0
	if tag, err := language.Parse(locale); err == nil {
		_, idx, _ = c.matcher.Match(tag)
	}
	return Localizer{msgs: c.messages[idx], fallback: c.messages[0]}
}

// Localizer resolves message keys in one language.
type Localizer struct {
	msgs     map[string]string
	fallback map[string]string
}

// T returns the message for key with %{name} placeholders replaced from
// args, which alternate name and value. A key missing from every language is
// returned as is.
func (l Localizer) T(key string, args ...string) string {
	msg, ok := l.msgs[key]
	if !ok {
		if msg, ok = l.fallback[key]; !ok {
			return key
		}
	}
	if len(args) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "%{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
