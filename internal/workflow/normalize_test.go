package workflow

import (
	"encoding/json"
	"errors"
	"testing"
)

func decodeRaw(t *testing.T, body string) RawRequest {
	t.Helper()
	var raw RawRequest
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return raw
}

func fixedSeed() int64 { return 1234 }

func TestNormalizeDefaults(t *testing.T) {
	req, err := Normalize(decodeRaw(t, `{"prompt":"  a cat  "}`), NormalizeOptions{Seed: fixedSeed})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.Prompt != "a cat" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	s := req.Settings
	if s.Width != DefaultWidth || s.Height != DefaultHeight || s.Steps != DefaultSteps {
		t.Fatalf("settings = %+v", s)
	}
	if s.Seed != 1234 {
		t.Fatalf("seed = %d", s.Seed)
	}
	if s.CkptName != DefaultCkptName {
		t.Fatalf("ckpt = %q", s.CkptName)
	}
	if len(s.Adapters) != 0 {
		t.Fatalf("adapters = %+v", s.Adapters)
	}
}

func TestNormalizeEmptyPrompt(t *testing.T) {
	for _, body := range []string{`{}`, `{"prompt":""}`, `{"prompt":"   "}`} {
		if _, err := Normalize(decodeRaw(t, body), NormalizeOptions{}); !errors.Is(err, ErrEmptyPrompt) {
			t.Fatalf("%s: err = %v; want ErrEmptyPrompt", body, err)
		}
	}
}

func TestNormalizeSettings(t *testing.T) {
	body := `{"prompt":"a cat","settings":{"width":"768","height":512.9,"steps":null,"seed":42,"ckptName":"custom.safetensors"}}`
	req, err := Normalize(decodeRaw(t, body), NormalizeOptions{CkptName: "ignored.safetensors", Seed: fixedSeed})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s := req.Settings
	if s.Width != 768 || s.Height != 512 || s.Steps != DefaultSteps || s.Seed != 42 {
		t.Fatalf("settings = %+v", s)
	}
	if s.CkptName != "custom.safetensors" {
		t.Fatalf("ckpt = %q", s.CkptName)
	}
}

func TestNormalizeNonFiniteAndClamp(t *testing.T) {
	body := `{"prompt":"x","settings":{"width":"NaN","height":"Infinity","steps":100000,"seed":"abc"}}`
	req, err := Normalize(decodeRaw(t, body), NormalizeOptions{Seed: fixedSeed})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	s := req.Settings
	if s.Width != DefaultWidth || s.Height != DefaultHeight {
		t.Fatalf("dimensions = %dx%d", s.Width, s.Height)
	}
	if s.Steps != MaxSteps {
		t.Fatalf("steps = %d; want clamp to %d", s.Steps, MaxSteps)
	}
	if s.Seed != 1234 {
		t.Fatalf("seed = %d", s.Seed)
	}
}

func TestNormalizeConfiguredCheckpoint(t *testing.T) {
	req, err := Normalize(decodeRaw(t, `{"prompt":"x"}`), NormalizeOptions{CkptName: "site.safetensors"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.Settings.CkptName != "site.safetensors" {
		t.Fatalf("ckpt = %q", req.Settings.CkptName)
	}
}

func TestNormalizeAdapterList(t *testing.T) {
	body := `{"prompt":"x","settings":{"adapters":[
		{"name":"first","strengthModel":0.8,"strengthClip":0.6,"enabled":true},
		{"name":"off","strengthModel":1,"strengthClip":1,"enabled":false},
		{"name":"","enabled":true},
		{"name":"implicit"}
	]}}`
	req, err := Normalize(decodeRaw(t, body), NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	got := req.Settings.Adapters
	if len(got) != 2 {
		t.Fatalf("adapters = %+v", got)
	}
	if got[0] != (Adapter{Name: "first", StrengthModel: 0.8, StrengthClip: 0.6, Enabled: true}) {
		t.Fatalf("adapters[0] = %+v", got[0])
	}
	if got[1] != (Adapter{Name: "implicit", StrengthModel: 1, StrengthClip: 1, Enabled: true}) {
		t.Fatalf("adapters[1] = %+v", got[1])
	}
}

func TestNormalizeLegacyFlag(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{`"true"`, 1},
		{`true`, 1},
		{`"TRUE"`, 1},
		{`"false"`, 0},
		{`false`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		body := `{"prompt":"x","settings":{"adapters":` + tt.value + `}}`
		req, err := Normalize(decodeRaw(t, body), NormalizeOptions{})
		if err != nil {
			t.Fatalf("%s: %v", tt.value, err)
		}
		if len(req.Settings.Adapters) != tt.want {
			t.Fatalf("%s: adapters = %+v", tt.value, req.Settings.Adapters)
		}
		if tt.want == 1 && req.Settings.Adapters[0].Name != LegacyAdapterName {
			t.Fatalf("%s: name = %q", tt.value, req.Settings.Adapters[0].Name)
		}
	}
}

func TestNormalizeLegacyFlagBuildsOneAdapter(t *testing.T) {
	req, err := Normalize(decodeRaw(t, `{"prompt":"x","settings":{"adapters":"true"}}`), NormalizeOptions{Seed: fixedSeed})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	g := Build(req)
	if g.Len() != 8 {
		t.Fatalf("nodes = %d; want 8", g.Len())
	}
}

func TestNormalizeAdaptersMalformed(t *testing.T) {
	if _, err := Normalize(decodeRaw(t, `{"prompt":"x","settings":{"adapters":42}}`), NormalizeOptions{}); err == nil {
		t.Fatalf("expected error for numeric adapters")
	}
}

func TestNormalizeSeedOutOfRangeIsRandom(t *testing.T) {
	tests := []string{`-1`, `"-42"`, `1e19`, `9223372036854775808`}
	for _, seed := range tests {
		body := `{"prompt":"x","settings":{"seed":` + seed + `}}`
		req, err := Normalize(decodeRaw(t, body), NormalizeOptions{Seed: fixedSeed})
		if err != nil {
			t.Fatalf("seed %s: %v", seed, err)
		}
		if req.Settings.Seed != 1234 {
			t.Fatalf("seed %s -> %d; want fallback 1234", seed, req.Settings.Seed)
		}
	}

	req, err := Normalize(decodeRaw(t, `{"prompt":"x","settings":{"seed":4294967296}}`), NormalizeOptions{Seed: fixedSeed})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if req.Settings.Seed != 4294967296 {
		t.Fatalf("seed = %d; want 4294967296", req.Settings.Seed)
	}
}
