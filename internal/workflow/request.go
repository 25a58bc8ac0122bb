package workflow

import "errors"

// Default generation settings applied when a request omits them.
const (
	DefaultWidth    = 1024
	DefaultHeight   = 1024
	DefaultSteps    = 28
	DefaultCkptName = "sd_xl_base_1.0.safetensors"

	MinDimension = 64
	MaxDimension = 4096
	MinSteps     = 1
	MaxSteps     = 150
)

// Legacy "adapters on" flag expands to this adapter.
const (
	LegacyAdapterName     = "add_detail.safetensors"
	LegacyAdapterStrength = 1.0
)

// ErrEmptyPrompt is returned when the prompt is missing or blank.
var ErrEmptyPrompt = errors.New("prompt is required")

// Request is a normalized generation request.
type Request struct {
	Prompt   string
	Settings Settings
}

// Settings holds the sampling parameters of a request.
type Settings struct {
	Width    int
	Height   int
	Steps    int
	Seed     int64
	CkptName string
	// Adapters is the ordered adapter chain; order determines wiring.
	Adapters []Adapter
}

// Adapter is a style adapter (LoRA) inserted into the model/clip path.
type Adapter struct {
	Name          string  `json:"name"`
	StrengthModel float64 `json:"strengthModel"`
	StrengthClip  float64 `json:"strengthClip"`
	Enabled       bool    `json:"enabled"`
}

// EnabledAdapters returns the enabled adapters in request order.
func (s Settings) EnabledAdapters() []Adapter {
	out := make([]Adapter, 0, len(s.Adapters))
	for _, a := range s.Adapters {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
