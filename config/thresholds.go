package config

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var defaultThresholdsYAML []byte

type Threshold struct {
	Combined decimal.Decimal
	Bio      decimal.Decimal
}

type thresholdEntry struct {
	Name     string   `yaml:"name"`
	Regions  []string `yaml:"regions"`
	Combined string   `yaml:"combined"`
	Bio      string   `yaml:"bio"`
}

type thresholdFile struct {
	Default   thresholdEntry   `yaml:"default"`
	Overrides []thresholdEntry `yaml:"overrides"`
}

type Thresholds struct {
	Default  Threshold
	byRegion map[string]Threshold
}

// ForRegion returns the thresholds applying to a region code, falling back to the default.
func (t *Thresholds) ForRegion(region string) Threshold {
	if th, ok := t.byRegion[strings.TrimSpace(region)]; ok {
		return th
	}
	return t.Default
}

func (e thresholdEntry) parse() (Threshold, error) {
	combined, err := decimal.NewFromString(strings.TrimSpace(e.Combined))
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %q: combined: %w", e.Name, err)
	}
	bio, err := decimal.NewFromString(strings.TrimSpace(e.Bio))
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %q: bio: %w", e.Name, err)
	}
	th := Threshold{Combined: combined, Bio: bio}
	return th, th.Validate(e.Name)
}

func (th Threshold) Validate(name string) error {
	one := decimal.NewFromInt(1)
	if th.Combined.IsNegative() || th.Combined.GreaterThan(one) {
		return fmt.Errorf("threshold %q: combined %s out of [0,1]", name, th.Combined)
	}
	if th.Bio.IsNegative() || th.Bio.GreaterThan(th.Combined) {
		return fmt.Errorf("threshold %q: bio %s out of [0,combined]", name, th.Bio)
	}
	return nil
}

// ParseThresholds decodes and validates a threshold table.
func ParseThresholds(data []byte) (*Thresholds, error) {
	var raw thresholdFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	raw.Default.Name = "default"
	def, err := raw.Default.parse()
	if err != nil {
		return nil, err
	}
	t := &Thresholds{
		Default:  def,
		byRegion: map[string]Threshold{},
	}
	for _, entry := range raw.Overrides {
		th, err := entry.parse()
		if err != nil {
			return nil, err
		}
		for _, region := range entry.Regions {
			region = strings.TrimSpace(region)
			if _, dup := t.byRegion[region]; dup {
				return nil, fmt.Errorf("threshold region %q declared twice", region)
			}
			t.byRegion[region] = th
		}
	}
	return t, nil
}

var (
	thresholds     *Thresholds
	thresholdsOnce sync.Once
)

// GetThresholds loads EGALIM_THRESHOLDS_FILE when set, the embedded table otherwise.
// An unreadable override falls back to the embedded table.
func GetThresholds() *Thresholds {
	thresholdsOnce.Do(func() {
		if path := strings.TrimSpace(os.Getenv("EGALIM_THRESHOLDS_FILE")); path != "" {
			data, err := os.ReadFile(path)
			if err == nil {
				thresholds, err = ParseThresholds(data)
			}
			if err == nil {
				return
			}
			log.Printf("failed to load thresholds from %s: %v; using defaults", path, err)
		}
		var err error
		thresholds, err = ParseThresholds(defaultThresholdsYAML)
		if err != nil {
			panic(err)
		}
	})
	return thresholds
}
