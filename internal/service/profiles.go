package service

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"beverage_dispenser/internal/models"

	"gopkg.in/yaml.v3"
)

// DefaultBeverage is used when a request names no beverage or an unknown one.
const DefaultBeverage = "beer"

// ProfileRegistry is the read-only beverage catalogue.
type ProfileRegistry interface {
	// Lookup returns the profile for key, falling back to the default profile.
	Lookup(key string) models.BeverageProfile
	// List returns all profiles ordered by key.
	List() []models.BeverageProfile
}

// Profiles is an in-memory ProfileRegistry.
type Profiles struct {
	defaultKey string
	byKey      map[string]models.BeverageProfile
}

// DefaultProfiles returns the built-in catalogue.
func DefaultProfiles() *Profiles {
	p, _ := NewProfiles(DefaultBeverage, []models.BeverageProfile{
		{
			Key:               "beer",
			Name:              "Beer",
			DefaultVolumeMl:   500,
			FlowRateMlPerSec:  40,
			FoamHeadspaceMl:   50,
			SlowPourThreshold: 0.8,
			SlowPourRate:      0.3,
			TemperatureMinC:   2,
			TemperatureMaxC:   8,
		},
		{
			Key:               "kofola",
			Name:              "Kofola",
			DefaultVolumeMl:   500,
			FlowRateMlPerSec:  45,
			FoamHeadspaceMl:   30,
			SlowPourThreshold: 0.85,
			SlowPourRate:      0.4,
			TemperatureMinC:   4,
			TemperatureMaxC:   10,
		},
		{
			Key:               "birel",
			Name:              "Birel",
			DefaultVolumeMl:   500,
			FlowRateMlPerSec:  40,
			FoamHeadspaceMl:   45,
			SlowPourThreshold: 0.8,
			SlowPourRate:      0.35,
			TemperatureMinC:   3,
			TemperatureMaxC:   8,
		},
	})
	return p
}

// NewProfiles validates and indexes the given profiles.
func NewProfiles(defaultKey string, list []models.BeverageProfile) (*Profiles, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("beverage catalogue is empty: %w", ErrInvalidRequest)
	}
	byKey := make(map[string]models.BeverageProfile, len(list))
	for _, p := range list {
		p.Key = normalizeBeverageKey(p.Key)
		if err := validateProfile(p); err != nil {
			return nil, err
		}
		byKey[p.Key] = p
	}
	defaultKey = normalizeBeverageKey(defaultKey)
	if _, ok := byKey[defaultKey]; !ok {
		return nil, fmt.Errorf("default beverage %q not in catalogue: %w", defaultKey, ErrInvalidRequest)
	}
	return &Profiles{defaultKey: defaultKey, byKey: byKey}, nil
}

// profileFile is the YAML layout of a beverage catalogue.
type profileFile struct {
	Default   string                   `yaml:"default"`
	Beverages []models.BeverageProfile `yaml:"beverages"`
}

// LoadProfiles reads a YAML catalogue.
func LoadProfiles(r io.Reader) (*Profiles, error) {
	var f profileFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode beverage catalogue: %w", err)
	}
	if f.Default == "" {
		f.Default = DefaultBeverage
	}
	return NewProfiles(f.Default, f.Beverages)
}

// LoadProfilesFile reads a YAML catalogue from path. An empty path or a
// missing file yields the built-in catalogue.
func LoadProfilesFile(path string) (*Profiles, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfiles(), nil
		}
		return nil, fmt.Errorf("open beverage catalogue %q: %w", path, err)
	}
	defer fh.Close()
	return LoadProfiles(fh)
}

// Lookup returns the profile for key or the default profile.
func (p *Profiles) Lookup(key string) models.BeverageProfile {
	if prof, ok := p.byKey[normalizeBeverageKey(key)]; ok {
		return prof
	}
	return p.byKey[p.defaultKey]
}

// List returns all profiles ordered by key.
func (p *Profiles) List() []models.BeverageProfile {
	out := make([]models.BeverageProfile, 0, len(p.byKey))
	for _, prof := range p.byKey {
		out = append(out, prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalizeBeverageKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateProfile(p models.BeverageProfile) error {
	switch {
	case p.Key == "":
		return fmt.Errorf("beverage profile without key: %w", ErrInvalidRequest)
	case p.DefaultVolumeMl <= p.FoamHeadspaceMl:
		return fmt.Errorf("beverage %q: default volume must exceed foam headspace: %w", p.Key, ErrInvalidRequest)
	case p.FlowRateMlPerSec <= 0:
		return fmt.Errorf("beverage %q: flow rate must be positive: %w", p.Key, ErrInvalidRequest)
	case p.SlowPourThreshold < 0 || p.SlowPourThreshold > 1:
		return fmt.Errorf("beverage %q: slow pour threshold must be within [0,1]: %w", p.Key, ErrInvalidRequest)
	case p.SlowPourRate <= 0 || p.SlowPourRate > 1:
		return fmt.Errorf("beverage %q: slow pour rate must be within (0,1]: %w", p.Key, ErrInvalidRequest)
	case p.TemperatureMinC > p.TemperatureMaxC:
		return fmt.Errorf("beverage %q: temperature range inverted: %w", p.Key, ErrInvalidRequest)
	}
	return nil
}
