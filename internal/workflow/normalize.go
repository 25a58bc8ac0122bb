package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// RawRequest is the inbound request body as sent by callers.
type RawRequest struct {
	Prompt   string      `json:"prompt"`
	Settings RawSettings `json:"settings"`
}

// RawSettings keeps every field undecoded so absent, null, numeric-string
// and non-finite values can all fall back to defaults.
type RawSettings struct {
	Width    json.RawMessage `json:"width,omitempty"`
	Height   json.RawMessage `json:"height,omitempty"`
	Steps    json.RawMessage `json:"steps,omitempty"`
	Seed     json.RawMessage `json:"seed,omitempty"`
	CkptName string          `json:"ckptName,omitempty"`
	Adapters json.RawMessage `json:"adapters,omitempty"`
}

// NormalizeOptions controls defaults applied by Normalize.
type NormalizeOptions struct {
	// CkptName replaces DefaultCkptName when set.
	CkptName string
	// Seed produces a seed when the request has none. Defaults to a random
	// 32-bit value.
	Seed func() int64
}

// Normalize validates raw and fills in defaults.
func Normalize(raw RawRequest, opts NormalizeOptions) (Request, error) {
	prompt := strings.TrimSpace(raw.Prompt)
	if prompt == "" {
		return Request{}, ErrEmptyPrompt
	}
	s := raw.Settings
	settings := Settings{
		Width:    clamp(intOr(s.Width, DefaultWidth), MinDimension, MaxDimension),
		Height:   clamp(intOr(s.Height, DefaultHeight), MinDimension, MaxDimension),
		Steps:    clamp(intOr(s.Steps, DefaultSteps), MinSteps, MaxSteps),
		CkptName: strings.TrimSpace(s.CkptName),
	}
	if settings.CkptName == "" {
		settings.CkptName = opts.CkptName
	}
	if settings.CkptName == "" {
		settings.CkptName = DefaultCkptName
	}
	if seed, ok := seedValue(s.Seed); ok {
		settings.Seed = seed
	} else if opts.Seed != nil {
		settings.Seed = opts.Seed()
	} else {
		settings.Seed = rand.Int64N(1 << 32)
	}
	adapters, err := parseAdapters(s.Adapters)
	if err != nil {
		return Request{}, err
	}
	settings.Adapters = adapters
	return Request{Prompt: prompt, Settings: settings}, nil
}

// number decodes a JSON number or numeric string. It reports false for
// absent, null, malformed or non-finite values.
func number(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// seedValue decodes a seed. Negative values and values beyond the int64
// range are treated as absent.
func seedValue(raw json.RawMessage) (int64, bool) {
	f, ok := number(raw)
	if !ok || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func intOr(raw json.RawMessage, def int) int {
	if f, ok := number(raw); ok {
		return int(f)
	}
	return def
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type rawAdapter struct {
	Name          string          `json:"name"`
	StrengthModel json.RawMessage `json:"strengthModel"`
	StrengthClip  json.RawMessage `json:"strengthClip"`
	Enabled       *bool           `json:"enabled"`
}

// parseAdapters accepts either an adapter list or the legacy boolean-like
// flag. Disabled and unnamed entries are dropped.
func parseAdapters(raw json.RawMessage) ([]Adapter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var list []rawAdapter
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("adapters: %w", err)
		}
		out := make([]Adapter, 0, len(list))
		for _, ra := range list {
			name := strings.TrimSpace(ra.Name)
			if name == "" {
				continue
			}
			if ra.Enabled != nil && !*ra.Enabled {
				continue
			}
			sm, ok := number(ra.StrengthModel)
			if !ok {
				sm = LegacyAdapterStrength
			}
			sc, ok := number(ra.StrengthClip)
			if !ok {
				sc = LegacyAdapterStrength
			}
			out = append(out, Adapter{Name: name, StrengthModel: sm, StrengthClip: sc, Enabled: true})
		}
		return out, nil
	case 't', 'f':
		var on bool
		if err := json.Unmarshal(raw, &on); err != nil {
			return nil, fmt.Errorf("adapters: %w", err)
		}
		return legacyAdapters(on), nil
	case '"':
		var flag string
		if err := json.Unmarshal(raw, &flag); err != nil {
			return nil, fmt.Errorf("adapters: %w", err)
		}
		return legacyAdapters(strings.EqualFold(strings.TrimSpace(flag), "true")), nil
	default:
		return nil, fmt.Errorf("adapters: unsupported value %s", string(raw))
	}
}

func legacyAdapters(on bool) []Adapter {
	if !on {
		return nil
	}
	return []Adapter{{
		Name:          LegacyAdapterName,
		StrengthModel: LegacyAdapterStrength,
		StrengthClip:  LegacyAdapterStrength,
		Enabled:       true,
	}}
}
