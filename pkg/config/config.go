package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Config provides access to a parsed configuration file.
// Section and option names are case-insensitive; multi-line option
// values use indented continuation lines (printer.cfg style).
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string // maintains section order

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file and returns a Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	c := New()
	if err := c.parse(bufio.NewScanner(f), path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration from a string (for tests).
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(bufio.NewScanner(strings.NewReader(data)), "<string>"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parse(scanner *bufio.Scanner, path string) error {
	var currentSection string
	var currentOptions map[string]string
	var lastOption string

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Text()
		line := strings.TrimRight(raw, " \t\r")

		// Indented continuation line belonging to the previous option.
		if currentSection != "" && lastOption != "" &&
			(strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")) {
			cont := strings.TrimSpace(stripComment(line))
			if cont != "" {
				currentOptions[lastOption] += "\n" + cont
			}
			continue
		}

		line = strings.TrimSpace(stripComment(line))
		if line == "" {
			lastOption = ""
			continue
		}

		// Section header
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if currentSection != "" {
				c.addSection(currentSection, currentOptions)
			}
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, path)
			}
			currentSection = header
			currentOptions = make(map[string]string)
			lastOption = ""
			continue
		}

		// Skip options before first section
		if currentSection == "" {
			continue
		}

		key, value, ok := splitOption(line)
		if !ok {
			return fmt.Errorf("config: malformed line %d in %s: %q", lineNum, path, line)
		}
		currentOptions[key] = value
		lastOption = key
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if currentSection != "" {
		c.addSection(currentSection, currentOptions)
	}
	return nil
}

// stripComment removes a trailing comment from a config line.
func stripComment(line string) string {
	for _, marker := range []byte{'#', ';'} {
		if idx := strings.IndexByte(line, marker); idx >= 0 {
			line = line[:idx]
		}
	}
	return line
}

// splitOption splits "key: value" or "key = value".
func splitOption(line string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(line, sep); idx >= 0 {
			key = strings.ToLower(strings.TrimSpace(line[:idx]))
			value = strings.TrimSpace(line[idx+1:])
			return key, value, key != ""
		}
	}
	return "", "", false
}

func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(name)
	if existing, ok := c.sections[key]; ok {
		// Later definitions extend earlier ones.
		for k, v := range options {
			existing.options[k] = v
		}
		return
	}
	c.sections[key] = newSection(name, options)
	c.order = append(c.order, key)
}

// HasSection checks whether a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// Section returns a named section or an error if it is missing.
func (c *Config) Section(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(name)
	s, ok := c.sections[key]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessedSections[key] = struct{}{}
	return s, nil
}

// SectionOrNil returns a named section, or nil if it does not exist.
func (c *Config) SectionOrNil(name string) *Section {
	s, err := c.Section(name)
	if err != nil {
		return nil
	}
	return s
}

// SectionNames returns all section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.order))
	for _, key := range c.order {
		names = append(names, c.sections[key].name)
	}
	return names
}

// SectionsWithPrefix returns all sections whose name starts with the
// given prefix (e.g. "gcode_macro " for per-macro sections).
func (c *Config) SectionsWithPrefix(prefix string) []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix = strings.ToLower(prefix)
	var result []*Section
	for _, key := range c.order {
		if strings.HasPrefix(key, prefix) {
			c.accessedSections[key] = struct{}{}
			result = append(result, c.sections[key])
		}
	}
	return result
}

// UnusedSections returns sections that were never accessed, for
// startup warnings about misspelled section names.
func (c *Config) UnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []string
	for _, key := range c.order {
		if _, ok := c.accessedSections[key]; !ok {
			result = append(result, c.sections[key].name)
		}
	}
	return result
}
