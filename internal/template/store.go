// Package template renders channel-appropriate notification content from
// per-(type, channel, locale) templates loaded at startup.
package template

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rendered is the final content handed to a delivery provider.
type Rendered struct {
	Title string
	Body  string
}

type entry struct {
	Type    string `yaml:"type"`
	Channel string `yaml:"channel"`
	Locale  string `yaml:"locale"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
}

type templateFile struct {
	Templates []entry `yaml:"templates"`
}

type key struct {
	alertType string
	channel   string
	locale    string
}

// Store holds the loaded templates. Lookup falls back to the default locale
// when the requested one has no entry; when no template exists at all the
// caller-provided message is used verbatim so an alert is never lost to a
// missing template.
type Store struct {
	templates     map[key]entry
	defaultLocale string
}

// Load reads templates from a YAML file.
func Load(path, defaultLocale string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse template file %s: %w", path, err)
	}

	s := &Store{
		templates:     make(map[key]entry, len(f.Templates)),
		defaultLocale: defaultLocale,
	}
	for i, e := range f.Templates {
		if e.Type == "" || e.Channel == "" {
			return nil, fmt.Errorf("template %d in %s missing type or channel", i, path)
		}
		if e.Locale == "" {
			e.Locale = defaultLocale
		}
		s.templates[key{e.Type, e.Channel, e.Locale}] = e
	}
	return s, nil
}

// NewStore builds a Store from in-memory entries; used by tests.
func NewStore(defaultLocale string) *Store {
	return &Store{
		templates:     make(map[key]entry),
		defaultLocale: defaultLocale,
	}
}

// Add registers a template.
func (s *Store) Add(alertType, channel, locale, title, body string) {
	if locale == "" {
		locale = s.defaultLocale
	}
	s.templates[key{alertType, channel, locale}] = entry{
		Type: alertType, Channel: channel, Locale: locale, Title: title, Body: body,
	}
}

// Render produces content for an alert. vars are substituted into {{name}}
// placeholders in the title and body.
func (s *Store) Render(alertType, channel, locale string, vars map[string]string) Rendered {
	e, ok := s.lookup(alertType, channel, locale)
	if !ok {
		// No template configured: fall back to the raw alert message.
		return Rendered{
			Title: defaultTitle(alertType),
			Body:  vars["message"],
		}
	}

	return Rendered{
		Title: substitute(e.Title, vars),
		Body:  substitute(e.Body, vars),
	}
}

func (s *Store) lookup(alertType, channel, locale string) (entry, bool) {
	if locale != "" {
		if e, ok := s.templates[key{alertType, channel, locale}]; ok {
			return e, true
		}
	}
	e, ok := s.templates[key{alertType, channel, s.defaultLocale}]
	return e, ok
}

func substitute(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func defaultTitle(alertType string) string {
	switch alertType {
	case "SPEED_LIMIT":
		return "Speed Limit Alert"
	case "OFFLINE":
		return "Truck Offline Alert"
	case "GEOFENCE_ENTER":
		return "Geofence Entry Alert"
	case "GEOFENCE_EXIT":
		return "Geofence Exit Alert"
	default:
		return "Fleet Alert"
	}
}
