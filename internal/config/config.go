// Package config holds the sentinel's configuration: crawl source definitions
// read from a yaml file and runtime settings read from the environment.
package config

// SourceSpec describes one crawl source the backend can be asked to fetch.
type SourceSpec struct {
	// Name is the stable logical identifier the backend reports workers under.
	Name string `yaml:"name"`

	// URL is the source's entry point.
	URL string `yaml:"url"`

	// Category groups sources for reporting, e.g. "news" or "finance".
	Category string `yaml:"category,omitempty"`

	// RateLimit is the maximum number of requests per second for this source.
	// Zero (or omitted) means the backend's default applies.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// Disabled excludes the source from crawl start requests without removing
	// its definition.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Config represents the top-level source configuration.
type Config struct {
	Sources []SourceSpec `yaml:"sources"`
}

// EnabledSourceNames returns the names of all sources not marked disabled, in
// file order.
func (c *Config) EnabledSourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Disabled {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}
