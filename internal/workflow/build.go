package workflow

// Node classes understood by the engine.
const (
	ClassCheckpointLoader = "CheckpointLoaderSimple"
	ClassTextEncode       = "CLIPTextEncode"
	ClassEmptyLatent      = "EmptyLatentImage"
	ClassSampler          = "KSampler"
	ClassVAEDecode        = "VAEDecode"
	ClassSaveImage        = "SaveImage"
	ClassLoraLoader       = "LoraLoader"
)

// Ids of the fixed nodes. Adapter ids are allocated above the largest.
const (
	SamplerID    = "3"
	CheckpointID = "4"
	LatentID     = "5"
	PositiveID   = "6"
	NegativeID   = "7"
	DecodeID     = "8"
	SaveID       = "9"
)

// Output slots of the checkpoint loader and adapter nodes.
const (
	SlotModel = 0
	SlotClip  = 1
	SlotVAE   = 2
)

// Fixed sampler configuration.
const (
	SamplerName    = "dpmpp_2m"
	Scheduler      = "karras"
	CFG            = 7.0
	Denoise        = 1.0
	BatchSize      = 1
	FilenamePrefix = "pixrelay"
)

// QualitySuffix is appended to every positive prompt.
const QualitySuffix = ", masterpiece, best quality, highly detailed, sharp focus"

// NegativePrompt is the fixed negative conditioning text.
const NegativePrompt = "lowres, bad anatomy, bad hands, text, error, missing fingers, extra digit, " +
	"fewer digits, cropped, worst quality, low quality, normal quality, jpeg artifacts, " +
	"signature, watermark, username, blurry, deformed, disfigured, mutated, extra limbs, " +
	"poorly drawn face, poorly drawn hands, out of frame, duplicate, ugly"

var fixedIDs = []string{SamplerID, CheckpointID, LatentID, PositiveID, NegativeID, DecodeID, SaveID}

// Build compiles req into a graph. Adapters are wired in a single forward
// pass: each adapter consumes the current model/clip source and becomes the
// source for the next stage, so consumers are emitted once with their final
// references.
func Build(req Request) *Graph {
	s := req.Settings
	nodes := make(map[string]Node, len(fixedIDs)+len(s.Adapters))

	nodes[CheckpointID] = Node{
		ClassType: ClassCheckpointLoader,
		Inputs:    map[string]any{"ckpt_name": s.CkptName},
	}

	model := Ref{Node: CheckpointID, Slot: SlotModel}
	clip := Ref{Node: CheckpointID, Slot: SlotClip}
	ids := newIDAllocator(fixedIDs)
	for _, a := range s.EnabledAdapters() {
		id := ids.take()
		nodes[id] = Node{
			ClassType: ClassLoraLoader,
			Inputs: map[string]any{
				"lora_name":      a.Name,
				"strength_model": a.StrengthModel,
				"strength_clip":  a.StrengthClip,
				"model":          model,
				"clip":           clip,
			},
		}
		model = Ref{Node: id, Slot: SlotModel}
		clip = Ref{Node: id, Slot: SlotClip}
	}

	nodes[PositiveID] = Node{
		ClassType: ClassTextEncode,
		Inputs:    map[string]any{"text": req.Prompt + QualitySuffix, "clip": clip},
	}
	nodes[NegativeID] = Node{
		ClassType: ClassTextEncode,
		Inputs:    map[string]any{"text": NegativePrompt, "clip": clip},
	}
	nodes[LatentID] = Node{
		ClassType: ClassEmptyLatent,
		Inputs:    map[string]any{"width": s.Width, "height": s.Height, "batch_size": BatchSize},
	}
	nodes[SamplerID] = Node{
		ClassType: ClassSampler,
		Inputs: map[string]any{
			"seed":         s.Seed,
			"steps":        s.Steps,
			"cfg":          CFG,
			"sampler_name": SamplerName,
			"scheduler":    Scheduler,
			"denoise":      Denoise,
			"model":        model,
			"positive":     Ref{Node: PositiveID, Slot: 0},
			"negative":     Ref{Node: NegativeID, Slot: 0},
			"latent_image": Ref{Node: LatentID, Slot: 0},
		},
	}
	nodes[DecodeID] = Node{
		ClassType: ClassVAEDecode,
		Inputs: map[string]any{
			"samples": Ref{Node: SamplerID, Slot: 0},
			"vae":     Ref{Node: CheckpointID, Slot: SlotVAE},
		},
	}
	nodes[SaveID] = Node{
		ClassType: ClassSaveImage,
		Inputs: map[string]any{
			"filename_prefix": FilenamePrefix,
			"images":          Ref{Node: DecodeID, Slot: 0},
		},
	}
	return &Graph{nodes: nodes}
}

// Validate reports the first reference that does not resolve inside g.
func (g *Graph) Validate() error {
	for _, id := range g.IDs() {
		for name, v := range g.nodes[id].Inputs {
			r, ok := v.(Ref)
			if !ok {
				continue
			}
			if _, ok := g.nodes[r.Node]; !ok {
				return &DanglingRefError{Node: id, Input: name, Target: r.Node}
			}
		}
	}
	return nil
}

// DanglingRefError describes a reference to a node missing from the graph.
type DanglingRefError struct {
	Node   string
	Input  string
	Target string
}

func (e *DanglingRefError) Error() string {
	return "node " + e.Node + " input " + e.Input + " references missing node " + e.Target
}
