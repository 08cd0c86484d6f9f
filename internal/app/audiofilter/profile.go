package audiofilter

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Band is a single equalizer band as the node expects it.
type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// bassboostSettings is the override shape for the bassboost profile.
type bassboostSettings struct {
	Equalizer []float64 `mapstructure:"equalizer" validate:"required,min=1,max=15"`
}

// Profiles holds the static parameter block for each filter.
type Profiles struct {
	blocks    map[Name]map[string]any
	bassBands []float64
}

// DefaultProfiles returns the built-in filter profiles.
func DefaultProfiles() *Profiles {
	return &Profiles{
		blocks: map[Name]map[string]any{
			DoubleTime: {
				"timescale": map[string]any{"speed": 1.165},
			},
			Nightcore: {
				"timescale": map[string]any{"speed": 1.125, "pitch": 1.125, "rate": 1},
			},
			Vaporwave: {
				"equalizer": []Band{{Band: 1, Gain: 0.3}, {Band: 0, Gain: 0.3}},
				"timescale": map[string]any{"pitch": 0.5},
				"tremolo":   map[string]any{"depth": 0.3, "frequency": 14},
			},
			EightD: {
				"rotation": map[string]any{"rotationHz": 0.2},
			},
		},
		bassBands: []float64{0.6, 0.67, 0.67, 0, -0.5, 0.15, -0.45, 0.23, 0.35, 0.45, 0.55, 0.6, 0.55, 0},
	}
}

// Override replaces the profile of a filter with settings from configuration.
// Bassboost settings must carry an "equalizer" list of per-band gains; any
// other filter takes its settings verbatim as the parameter block.
func (p *Profiles) Override(name Name, settings map[string]any) error {
	switch name {
	case Bassboost:
		var s bassboostSettings
		if err := mapstructure.Decode(settings, &s); err != nil {
			return errors.Wrap(err, "failed to decode bassboost settings")
		}
		if err := validator.New().Struct(s); err != nil {
			return errors.Wrap(err, "bassboost settings validation failed")
		}
		p.bassBands = s.Equalizer
	case DoubleTime, Nightcore, Vaporwave, EightD:
		if len(settings) == 0 {
			return errors.Newf("empty profile for filter %s", name)
		}
		block := make(map[string]any, len(settings))
		for k, v := range settings {
			block[k] = v
		}
		p.blocks[name] = block
	default:
		return errors.Newf("unknown filter: %s", name)
	}
	return nil
}

// BassBands returns a copy of the bassboost equalizer template.
func (p *Profiles) BassBands() []float64 {
	bands := make([]float64, len(p.bassBands))
	copy(bands, p.bassBands)
	return bands
}

// block returns a fresh copy of the named profile. For bassboost the
// equalizer template is scaled per band by gain.
func (p *Profiles) block(name Name, gain float64) (map[string]any, bool) {
	if name == Bassboost {
		if len(p.bassBands) == 0 {
			return nil, false
		}
		bands := make([]Band, len(p.bassBands))
		for i, g := range p.bassBands {
			bands[i] = Band{Band: i, Gain: g * gain}
		}
		return map[string]any{"equalizer": bands}, true
	}

	src, ok := p.blocks[name]
	if !ok {
		return nil, false
	}
	block := make(map[string]any, len(src))
	for k, v := range src {
		block[k] = v
	}
	return block, true
}
