package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"path"
	"regexp"
	"slices"
	"strings"
)

// GraphFormat identifies how an embedded parameter graph was authored.
type GraphFormat string

const (
	// GraphFormatUI is the editor layout: a "nodes" array plus "links".
	GraphFormatUI GraphFormat = "ui"
	// GraphFormatAPI is the execution form: node id -> {class_type, inputs}.
	GraphFormatAPI GraphFormat = "api"
)

// Node is one node of a parameter graph in execution form.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

// NodeMeta carries the optional display title of a node.
type NodeMeta struct {
	Title string `json:"title"`
}

// ParameterGraph is a validated generation graph. Nodes is always in
// execution form; UI graphs are converted on parse. Raw holds the unwrapped
// document as found in the file.
type ParameterGraph struct {
	Format GraphFormat
	Nodes  map[string]Node
	Raw    json.RawMessage
}

// nodeParamNames maps positional widget values of UI nodes to input names.
var nodeParamNames = map[string][]string{
	"CLIPTextEncode":         {"text"},
	"KSampler":               {"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise"},
	"KSamplerAdvanced":       {"add_noise", "noise_seed", "steps", "cfg", "sampler_name", "scheduler", "start_at_step", "end_at_step", "return_with_leftover_noise"},
	"Load Checkpoint":        {"ckpt_name"},
	"CheckpointLoaderSimple": {"ckpt_name"},
	"Empty Latent Image":     {"width", "height", "batch_size"},
	"LatentUpscale":          {"upscale_method", "width", "height"},
	"SaveImage":              {"filename_prefix"},
	"ModelMerger":            {"ckpt_name1", "ckpt_name2", "ratio"},
	"Load Image":             {"image"},
	"LoadImageMask":          {"image"},
	"LoadImageOutput":        {"image"},
	"VHS_LoadVideo":          {"video"},
	"LoadAudio":              {"audio"},
	"AudioLoader":            {"audio"},
	"LoraLoader":             {"lora_name", "strength_model", "strength_clip"},
	"LoraLoaderModelOnly":    {"lora_name", "strength_model"},
	"Load LoRA":              {"lora_name"},
}

// checkpointNodes lists the inputs naming a base model, per node class.
var checkpointNodes = map[string][]string{
	"CheckpointLoaderSimple": {"ckpt_name"},
	"Load Checkpoint":        {"ckpt_name"},
	"CheckpointLoader":       {"ckpt_name"},
	"ModelMerger":            {"ckpt_name1", "ckpt_name2"},
	"UNETLoader":             {"unet_name"},
	"DiffusersLoader":        {"model_path"},
}

// loraNodes lists the inputs naming an adapter, per node class.
var loraNodes = map[string][]string{
	"LoraLoader":            {"lora_name"},
	"LoraLoaderModelOnly":   {"lora_name"},
	"Load LoRA":             {"lora_name"},
	"Lora Loader":           {"lora_name"},
	"LoRALoader":            {"lora_name"},
	"LoraLoaderBlockWeight": {"lora_name"},
}

var inputFileExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
	".jfif": true, ".bmp": true, ".tiff": true,
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".m4a": true, ".aac": true,
}

// bracketSuffix matches annotations like "image.png [output]".
var bracketSuffix = regexp.MustCompile(`\s*\[.*?\]$`)

// ParseGraph validates a JSON candidate and normalizes it. A "workflow" key
// is unwrapped first, then a "prompt" key; either may hold a JSON string.
// The result is a UI graph when it has "nodes" and an API graph when any
// value is an object with "class_type". Anything else is rejected.
func ParseGraph(data []byte) (*ParameterGraph, bool) {
	doc, ok := decodeObject(data)
	if !ok {
		return nil, false
	}

	root := doc
	if inner, ok := unwrap(doc["workflow"]); ok {
		root = inner
	} else if inner, ok := unwrap(doc["prompt"]); ok {
		root = inner
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return nil, false
	}

	if _, ok := root["nodes"]; ok {
		return &ParameterGraph{Format: GraphFormatUI, Nodes: convertUI(root), Raw: raw}, true
	}

	nodes := make(map[string]Node)
	for id, v := range root {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		classType, ok := obj["class_type"].(string)
		if !ok {
			continue
		}
		n := Node{ClassType: classType, Inputs: map[string]any{}}
		if inputs, ok := obj["inputs"].(map[string]any); ok {
			n.Inputs = inputs
		}
		if meta, ok := obj["_meta"].(map[string]any); ok {
			if title, ok := meta["title"].(string); ok {
				n.Meta = &NodeMeta{Title: title}
			}
		}
		nodes[id] = n
	}
	if len(nodes) == 0 {
		return nil, false
	}
	return &ParameterGraph{Format: GraphFormatAPI, Nodes: nodes, Raw: raw}, true
}

func decodeObject(data []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

// unwrap accepts an object or a string holding a JSON object.
func unwrap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		return decodeObject([]byte(t))
	}
	return nil, false
}

type linkSource struct {
	node string
	slot any
}

// convertUI turns an editor graph into execution form. Bypassed or muted
// nodes (mode != 0) are dropped along with links touching them.
func convertUI(doc map[string]any) map[string]Node {
	rawNodes, _ := doc["nodes"].([]any)

	active := make(map[string]map[string]any)
	for _, rn := range rawNodes {
		n, ok := rn.(map[string]any)
		if !ok || !isEnabled(n["mode"]) {
			continue
		}
		active[idString(n["id"])] = n
	}

	links := make(map[string]linkSource)
	rawLinks, _ := doc["links"].([]any)
	for _, rl := range rawLinks {
		var id, src, dst string
		var slot any
		switch l := rl.(type) {
		case []any:
			if len(l) < 4 {
				continue
			}
			id, src, slot, dst = idString(l[0]), idString(l[1]), l[2], idString(l[3])
		case map[string]any:
			id, src, slot, dst = idString(l["id"]), idString(l["origin_id"]), l["origin_slot"], idString(l["target_id"])
		default:
			continue
		}
		if _, ok := active[src]; !ok {
			continue
		}
		if _, ok := active[dst]; !ok {
			continue
		}
		links[id] = linkSource{node: src, slot: slot}
	}

	nodes := make(map[string]Node, len(active))
	for id, n := range active {
		classType, _ := n["type"].(string)
		if classType == "" {
			continue
		}

		inputs := make(map[string]any)
		switch widgets := n["widgets_values"].(type) {
		case []any:
			names := paramNames(classType)
			for i, v := range widgets {
				if i < len(names) {
					inputs[names[i]] = v
				} else {
					inputs[fmt.Sprintf("widget_%d", i)] = v
				}
			}
		case map[string]any:
			for k, v := range widgets {
				inputs[k] = v
			}
		}

		if conns, ok := n["inputs"].([]any); ok {
			for _, c := range conns {
				in, ok := c.(map[string]any)
				if !ok {
					continue
				}
				name, _ := in["name"].(string)
				if name == "" || in["link"] == nil {
					continue
				}
				if src, ok := links[idString(in["link"])]; ok {
					inputs[name] = []any{src.node, src.slot}
				}
			}
		}

		node := Node{ClassType: classType, Inputs: inputs}
		if title, ok := n["title"].(string); ok {
			node.Meta = &NodeMeta{Title: title}
		}
		nodes[id] = node
	}
	return nodes
}

func paramNames(classType string) []string {
	if names, ok := nodeParamNames[classType]; ok {
		return names
	}
	if names, ok := checkpointNodes[classType]; ok {
		return names
	}
	return loraNodes[classType]
}

func isEnabled(mode any) bool {
	if mode == nil {
		return true
	}
	return idString(mode) == "0"
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Models returns the base names of checkpoints referenced by the graph.
func (g *ParameterGraph) Models() []string {
	return g.collectNames(checkpointNodes)
}

// Loras returns the base names of adapters referenced by the graph.
func (g *ParameterGraph) Loras() []string {
	return g.collectNames(loraNodes)
}

func (g *ParameterGraph) collectNames(table map[string][]string) []string {
	var names []string
	for _, n := range g.Nodes {
		for _, param := range table[n.ClassType] {
			if name := baseName(n.Inputs[param]); name != "" {
				names = append(names, name)
			}
		}
	}
	return sortedUnique(names)
}

// InputFiles returns the base names of media files the graph loads, taken
// from any string input carrying a known media extension.
func (g *ParameterGraph) InputFiles() []string {
	var files []string
	for _, n := range g.Nodes {
		for _, v := range n.Inputs {
			s, ok := v.(string)
			if !ok {
				continue
			}
			clean := strings.TrimSpace(strings.ReplaceAll(s, `\`, "/"))
			clean = bracketSuffix.ReplaceAllString(clean, "")
			if clean == "" || !inputFileExtensions[strings.ToLower(path.Ext(clean))] {
				continue
			}
			if name := path.Base(clean); name != "" && name != "." && name != "/" {
				files = append(files, name)
			}
		}
	}
	return sortedUnique(files)
}

// APIJSON renders the graph in execution form.
func (g *ParameterGraph) APIJSON() ([]byte, error) {
	return json.Marshal(g.Nodes)
}

func baseName(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), `\`, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	slices.Sort(in)
	return slices.Compact(in)
}

// jsonObjects yields every balanced {...} region of data that is valid JSON.
// Braces inside strings are not special; this matches how generators embed
// graphs in arbitrary metadata blocks.
func jsonObjects(data []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		pos := 0
		for pos < len(data) {
			i := bytes.IndexByte(data[pos:], '{')
			if i < 0 {
				return
			}
			start := pos + i

			depth, end := 0, -1
			for j := start; j < len(data); j++ {
				switch data[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					end = j
					break
				}
			}
			if end < 0 {
				return
			}

			candidate := data[start : end+1]
			if json.Valid(candidate) && !yield(candidate) {
				return
			}
			pos = end + 1
		}
	}
}

// graphCollector keeps the first UI graph, or failing that the first API
// graph, across candidates from several sources.
type graphCollector struct {
	best *ParameterGraph
}

// offer records a candidate and reports whether the search can stop.
func (c *graphCollector) offer(data []byte) bool {
	g, ok := ParseGraph(data)
	if !ok {
		return false
	}
	return c.accept(g)
}

func (c *graphCollector) accept(g *ParameterGraph) bool {
	if g.Format == GraphFormatUI {
		c.best = g
		return true
	}
	if c.best == nil {
		c.best = g
	}
	return false
}

func (c *graphCollector) done() bool {
	return c.best != nil && c.best.Format == GraphFormatUI
}
