// Package profiles holds the registry of named encoding profiles. A profile
// fixes the resolution class and bitrate tier of a transcode channel and
// carries an encoder template whose names contain {channel} and
// {destination} placeholders.
package profiles

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"livefleet/internal/fleet"
)

//go:embed templates/*.yaml
var embedded embed.FS

// Placeholders substituted by Instantiate.
const (
	PlaceholderChannel     = "{channel}"
	PlaceholderDestination = "{destination}"
)

// VideoRendition is one video ladder rung.
type VideoRendition struct {
	Name               string `yaml:"name" json:"name"`
	Width              int    `yaml:"width" json:"width"`
	Height             int    `yaml:"height" json:"height"`
	Bitrate            int    `yaml:"bitrate" json:"bitrate"`
	FramerateNumerator int    `yaml:"framerateNumerator" json:"framerateNumerator"`
	GOPSeconds         int    `yaml:"gopSeconds" json:"gopSeconds"`
	Profile            string `yaml:"profile" json:"profile"`
}

// AudioRendition encodes the track picked by an audio selector.
type AudioRendition struct {
	Name         string `yaml:"name" json:"name"`
	Selector     string `yaml:"selector" json:"selector"`
	Codec        string `yaml:"codec" json:"codec"`
	Bitrate      int    `yaml:"bitrate" json:"bitrate"`
	SampleRate   int    `yaml:"sampleRate" json:"sampleRate"`
	LanguageCode string `yaml:"languageCode" json:"languageCode"`
}

// Output pairs a rendition with an output of the output group. Exactly one
// of Video or Audio is set.
type Output struct {
	Video string `yaml:"video,omitempty" json:"video,omitempty"`
	Audio string `yaml:"audio,omitempty" json:"audio,omitempty"`
}

// EncoderTemplate is the structured encoder and output-group template of a
// profile.
type EncoderTemplate struct {
	TimecodeSource  string           `yaml:"timecodeSource" json:"timecodeSource"`
	OutputGroupName string           `yaml:"outputGroupName" json:"outputGroupName"`
	DestinationID   string           `yaml:"destinationId" json:"destinationId"`
	Video           []VideoRendition `yaml:"video" json:"video"`
	Audio           []AudioRendition `yaml:"audio" json:"audio"`
	Outputs         []Output         `yaml:"outputs" json:"outputs"`
}

// Profile is a named, immutable encoding profile.
type Profile struct {
	Name       string          `yaml:"name" json:"name"`
	Resolution string          `yaml:"resolution" json:"resolution"`
	MaxBitrate string          `yaml:"maxBitrate" json:"maxBitrate"`
	Template   EncoderTemplate `yaml:"template" json:"template"`
}

// Vars are the values substituted into a template.
type Vars struct {
	Channel     string
	Destination string
}

// Instantiate returns a copy of the template with every placeholder
// replaced.
func (p Profile) Instantiate(vars Vars) EncoderTemplate {
	replacer := strings.NewReplacer(PlaceholderChannel, vars.Channel, PlaceholderDestination, vars.Destination)
	src := p.Template
	out := EncoderTemplate{
		TimecodeSource:  src.TimecodeSource,
		OutputGroupName: replacer.Replace(src.OutputGroupName),
		DestinationID:   replacer.Replace(src.DestinationID),
		Video:           make([]VideoRendition, len(src.Video)),
		Audio:           make([]AudioRendition, len(src.Audio)),
		Outputs:         make([]Output, len(src.Outputs)),
	}
	for i, video := range src.Video {
		video.Name = replacer.Replace(video.Name)
		out.Video[i] = video
	}
	for i, audio := range src.Audio {
		audio.Name = replacer.Replace(audio.Name)
		out.Audio[i] = audio
	}
	for i, output := range src.Outputs {
		out.Outputs[i] = Output{Video: replacer.Replace(output.Video), Audio: replacer.Replace(output.Audio)}
	}
	return out
}

// AudioSelectors returns the selector names the template's audio renditions
// read from, in template order.
func (p Profile) AudioSelectors() []string {
	names := make([]string, 0, len(p.Template.Audio))
	for _, audio := range p.Template.Audio {
		names = append(names, audio.Selector)
	}
	return names
}

func (p Profile) clone() Profile {
	cloned := p
	cloned.Template.Video = append([]VideoRendition(nil), p.Template.Video...)
	cloned.Template.Audio = append([]AudioRendition(nil), p.Template.Audio...)
	cloned.Template.Outputs = append([]Output(nil), p.Template.Outputs...)
	return cloned
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	switch p.Resolution {
	case "SD", "HD", "UHD":
	default:
		return fmt.Errorf("profile %s: unknown resolution %q", p.Name, p.Resolution)
	}
	if !strings.HasPrefix(p.MaxBitrate, "MAX_") {
		return fmt.Errorf("profile %s: unknown bitrate tier %q", p.Name, p.MaxBitrate)
	}
	if !strings.Contains(p.Template.DestinationID, PlaceholderDestination) {
		return fmt.Errorf("profile %s: destination id must contain %s", p.Name, PlaceholderDestination)
	}
	if len(p.Template.Video) == 0 {
		return fmt.Errorf("profile %s: at least one video rendition is required", p.Name)
	}
	names := make(map[string]string)
	for _, video := range p.Template.Video {
		if !strings.Contains(video.Name, PlaceholderChannel) {
			return fmt.Errorf("profile %s: rendition %q must contain %s", p.Name, video.Name, PlaceholderChannel)
		}
		if video.Width <= 0 || video.Height <= 0 || video.Bitrate <= 0 {
			return fmt.Errorf("profile %s: rendition %q has invalid dimensions or bitrate", p.Name, video.Name)
		}
		names[video.Name] = "video"
	}
	for _, audio := range p.Template.Audio {
		if !strings.Contains(audio.Name, PlaceholderChannel) {
			return fmt.Errorf("profile %s: rendition %q must contain %s", p.Name, audio.Name, PlaceholderChannel)
		}
		if audio.Selector == "" {
			return fmt.Errorf("profile %s: audio rendition %q has no selector", p.Name, audio.Name)
		}
		names[audio.Name] = "audio"
	}
	for i, output := range p.Template.Outputs {
		switch {
		case output.Video != "" && output.Audio == "":
			if names[output.Video] != "video" {
				return fmt.Errorf("profile %s: output %d references unknown video %q", p.Name, i, output.Video)
			}
		case output.Audio != "" && output.Video == "":
			if names[output.Audio] != "audio" {
				return fmt.Errorf("profile %s: output %d references unknown audio %q", p.Name, i, output.Audio)
			}
		default:
			return fmt.Errorf("profile %s: output %d must reference exactly one rendition", p.Name, i)
		}
	}
	return nil
}

// Registry maps profile names to profiles. It is safe for concurrent use;
// profiles are never mutated after loading.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry loads every *.yaml template under the root of fsys.
func NewRegistry(fsys fs.FS) (*Registry, error) {
	entries, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	registry := &Registry{profiles: make(map[string]Profile, len(entries))}
	for _, entry := range entries {
		data, err := fs.ReadFile(fsys, entry)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", entry, err)
		}
		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", entry, err)
		}
		if err := registry.Add(profile); err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(entry), err)
		}
	}
	return registry, nil
}

// Add validates and registers a profile. Names must be unique.
func (r *Registry) Add(profile Profile) error {
	if err := profile.validate(); err != nil {
		return err
	}
	if _, exists := r.profiles[profile.Name]; exists {
		return fmt.Errorf("profile %s registered twice", profile.Name)
	}
	r.profiles[profile.Name] = profile.clone()
	return nil
}

// Lookup returns a copy of the named profile. An unknown name is a
// *fleet.ConfigurationError; no default profile is ever substituted.
func (r *Registry) Lookup(name string) (Profile, error) {
	profile, ok := r.profiles[name]
	if !ok {
		return Profile{}, &fleet.ConfigurationError{
			Role:   string(fleet.RoleTranscodeChannel),
			Field:  "encodingProfile",
			Reason: fmt.Sprintf("unknown encoding profile %q (known: %s)", name, strings.Join(r.Names(), ", ")),
		}
	}
	return profile.clone(), nil
}

// Names lists the registered profile names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry of built-in profiles.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			defaultErr = err
			return
		}
		defaultRegistry, defaultErr = NewRegistry(sub)
	})
	return defaultRegistry, defaultErr
}
