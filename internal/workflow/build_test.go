package workflow

import (
	"encoding/json"
	"testing"
)

func baseRequest(adapters ...Adapter) Request {
	return Request{
		Prompt: "a cat",
		Settings: Settings{
			Width: 1024, Height: 1024, Steps: 28, Seed: 42,
			CkptName: DefaultCkptName,
			Adapters: adapters,
		},
	}
}

func TestBuildNoAdapters(t *testing.T) {
	g := Build(baseRequest())
	if g.Len() != 7 {
		t.Fatalf("nodes = %d; want 7", g.Len())
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	sampler, _ := g.Node(SamplerID)
	if v, _ := sampler.Input("seed"); v != int64(42) {
		t.Fatalf("seed = %v; want 42", v)
	}
	if r, _ := sampler.Ref("model"); r != (Ref{Node: CheckpointID, Slot: 0}) {
		t.Fatalf("sampler model = %+v", r)
	}
	for _, id := range []string{PositiveID, NegativeID} {
		n, _ := g.Node(id)
		if r, _ := n.Ref("clip"); r != (Ref{Node: CheckpointID, Slot: 1}) {
			t.Fatalf("node %s clip = %+v", id, r)
		}
	}
	dec, _ := g.Node(DecodeID)
	if r, _ := dec.Ref("vae"); r != (Ref{Node: CheckpointID, Slot: 2}) {
		t.Fatalf("decode vae = %+v", r)
	}
	if got := len(g.ByClass(ClassLoraLoader)); got != 0 {
		t.Fatalf("adapter nodes = %d", got)
	}
}

func TestBuildSingleAdapter(t *testing.T) {
	g := Build(baseRequest(Adapter{Name: "styleA", StrengthModel: 0.8, StrengthClip: 0.6, Enabled: true}))
	if g.Len() != 8 {
		t.Fatalf("nodes = %d; want 8", g.Len())
	}
	ids := g.ByClass(ClassLoraLoader)
	if len(ids) != 1 {
		t.Fatalf("adapter nodes = %v", ids)
	}
	id := ids[0]
	n, _ := g.Node(id)
	if n.ClassType != ClassLoraLoader {
		t.Fatalf("class = %s", n.ClassType)
	}
	if v, _ := n.Input("strength_model"); v != 0.8 {
		t.Fatalf("strength_model = %v", v)
	}
	if v, _ := n.Input("strength_clip"); v != 0.6 {
		t.Fatalf("strength_clip = %v", v)
	}
	if v, _ := n.Input("lora_name"); v != "styleA" {
		t.Fatalf("lora_name = %v", v)
	}
	for _, enc := range []string{PositiveID, NegativeID} {
		e, _ := g.Node(enc)
		if r, _ := e.Ref("clip"); r != (Ref{Node: id, Slot: 1}) {
			t.Fatalf("encoder %s clip = %+v; want [%s 1]", enc, r, id)
		}
	}
	s, _ := g.Node(SamplerID)
	if r, _ := s.Ref("model"); r != (Ref{Node: id, Slot: 0}) {
		t.Fatalf("sampler model = %+v", r)
	}
}

func TestBuildAdapterChain(t *testing.T) {
	adapters := []Adapter{
		{Name: "a", StrengthModel: 1, StrengthClip: 1, Enabled: true},
		{Name: "skip", StrengthModel: 1, StrengthClip: 1, Enabled: false},
		{Name: "b", StrengthModel: 0.5, StrengthClip: 0.4, Enabled: true},
		{Name: "c", StrengthModel: 0.3, StrengthClip: 0.2, Enabled: true},
	}
	g := Build(baseRequest(adapters...))
	if g.Len() != 7+3 {
		t.Fatalf("nodes = %d; want 10", g.Len())
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	chain := g.ByClass(ClassLoraLoader)
	if len(chain) != 3 {
		t.Fatalf("chain = %v", chain)
	}
	seen := map[string]bool{}
	for _, id := range fixedIDs {
		seen[id] = true
	}
	for _, id := range chain {
		if seen[id] {
			t.Fatalf("adapter id %s collides", id)
		}
		seen[id] = true
	}
	wantNames := []string{"a", "b", "c"}
	prev := CheckpointID
	for i, id := range chain {
		n, _ := g.Node(id)
		if v, _ := n.Input("lora_name"); v != wantNames[i] {
			t.Fatalf("chain[%d] name = %v; want %s", i, v, wantNames[i])
		}
		if r, _ := n.Ref("model"); r != (Ref{Node: prev, Slot: 0}) {
			t.Fatalf("chain[%d] model = %+v; want [%s 0]", i, r, prev)
		}
		if r, _ := n.Ref("clip"); r != (Ref{Node: prev, Slot: 1}) {
			t.Fatalf("chain[%d] clip = %+v; want [%s 1]", i, r, prev)
		}
		prev = id
	}
	last := chain[len(chain)-1]
	s, _ := g.Node(SamplerID)
	if r, _ := s.Ref("model"); r != (Ref{Node: last, Slot: 0}) {
		t.Fatalf("sampler model = %+v", r)
	}
	for _, enc := range []string{PositiveID, NegativeID} {
		e, _ := g.Node(enc)
		if r, _ := e.Ref("clip"); r != (Ref{Node: last, Slot: 1}) {
			t.Fatalf("encoder %s clip = %+v", enc, r)
		}
	}
}

func TestGraphNodeIsCopy(t *testing.T) {
	g := Build(baseRequest())
	n, _ := g.Node(SamplerID)
	n.Inputs["seed"] = int64(7)
	again, _ := g.Node(SamplerID)
	if v, _ := again.Input("seed"); v != int64(42) {
		t.Fatalf("graph mutated through copy: seed = %v", v)
	}
}

func TestGraphMarshalJSON(t *testing.T) {
	g := Build(baseRequest(Adapter{Name: "styleA", StrengthModel: 0.8, StrengthClip: 0.6, Enabled: true}))
	b, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]struct {
		ClassType string                     `json:"class_type"`
		Inputs    map[string]json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire[SamplerID].ClassType != ClassSampler {
		t.Fatalf("sampler class = %q", wire[SamplerID].ClassType)
	}
	if got := string(wire[PositiveID].Inputs["clip"]); got != `["10",1]` {
		t.Fatalf("positive clip = %s", got)
	}
	if got := string(wire[SamplerID].Inputs["seed"]); got != "42" {
		t.Fatalf("seed = %s", got)
	}
}

func TestIDAllocatorSeedsFromMax(t *testing.T) {
	a := newIDAllocator([]string{"3", "12", "x", "9"})
	if got := a.take(); got != "13" {
		t.Fatalf("first = %s; want 13", got)
	}
	if got := a.take(); got != "14" {
		t.Fatalf("second = %s; want 14", got)
	}
}
