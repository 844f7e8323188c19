package fleet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FoundationSettings name the fleet-wide shared resources.
type FoundationSettings struct {
	// Prefix namespaces foundation resource names, e.g. "livefleet".
	Prefix string `yaml:"prefix" json:"prefix"`
	// ResourceGroup is the name of the packaging resource group every
	// channel's packaging channel lives under.
	ResourceGroup string `yaml:"resourceGroup" json:"resourceGroup"`
	// CDNHost is the delivery hostname used to format playback URLs.
	CDNHost string `yaml:"cdnHost" json:"cdnHost"`
}

var prefixPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Validate ensures the foundation settings are usable.
func (s FoundationSettings) Validate() error {
	if !prefixPattern.MatchString(s.Prefix) {
		return invalid("", "foundation.prefix", "prefix %q must match %s", s.Prefix, prefixPattern.String())
	}
	if strings.TrimSpace(s.ResourceGroup) == "" {
		return invalid("", "foundation.resourceGroup", "resource group name is required")
	}
	if strings.TrimSpace(s.CDNHost) == "" {
		return invalid("", "foundation.cdnHost", "CDN host is required")
	}
	if strings.Contains(s.CDNHost, "/") {
		return invalid("", "foundation.cdnHost", "CDN host %q must be a bare hostname", s.CDNHost)
	}
	return nil
}

// Fleet is the full declarative input: foundation settings and the ordered
// list of channels.
type Fleet struct {
	Foundation FoundationSettings `yaml:"foundation" json:"foundation"`
	Channels   []ChannelConfig    `yaml:"channels" json:"channels"`
}

// Names returns the desired channel names in declaration order.
func (f Fleet) Names() []string {
	names := make([]string, 0, len(f.Channels))
	for _, channel := range f.Channels {
		names = append(names, channel.Name)
	}
	return names
}

// Channel returns the configuration for the named channel.
func (f Fleet) Channel(name string) (ChannelConfig, bool) {
	for _, channel := range f.Channels {
		if channel.Name == name {
			return channel, true
		}
	}
	return ChannelConfig{}, false
}

// Validate checks the fleet-level constraints: foundation settings and
// unique channel names. Per-channel validation happens at compile time so
// one bad channel never blocks the others.
func (f Fleet) Validate() error {
	if err := f.Foundation.Validate(); err != nil {
		return err
	}
	seen := make(map[string]int, len(f.Channels))
	for i, channel := range f.Channels {
		if strings.TrimSpace(channel.Name) == "" {
			return invalid("", fmt.Sprintf("channels[%d].name", i), "channel name is required")
		}
		if channel.Name != strings.TrimSpace(channel.Name) {
			return invalid(channel.Name, fmt.Sprintf("channels[%d].name", i), "channel name %q has surrounding whitespace", channel.Name)
		}
		if prev, ok := seen[channel.Name]; ok {
			return invalid(channel.Name, fmt.Sprintf("channels[%d].name", i), "duplicate of channels[%d]", prev)
		}
		seen[channel.Name] = i
	}
	return nil
}

// Decode parses a YAML fleet description. Unknown fields are rejected.
func Decode(r io.Reader) (Fleet, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var f Fleet
	if err := decoder.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Fleet{}, errors.New("fleet file is empty")
		}
		return Fleet{}, fmt.Errorf("decode fleet: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fleet{}, err
	}
	return f, nil
}

// LoadFile reads and validates the fleet description at path.
func LoadFile(path string) (Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}
