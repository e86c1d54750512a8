package loader

import (
	"encoding/json"
	"fmt"

	"github.com/cmpforge/statefabric/internal/primitives"
)

// wireTransition mirrors one object-form transitionSpec entry.
type wireTransition struct {
	Target   string   `json:"target"`
	Cond     string   `json:"cond"`
	Actions  []string `json:"actions"`
	Internal bool     `json:"internal"`
}

// wireNode mirrors one state node in the wire JSON schema. Its `On`/`After`/
// `Always` fields are raw JSON because transitionSpec is polymorphic
// (string | object | array of object).
type wireNode struct {
	ID           string                     `json:"id"`
	Type         string                     `json:"type"`
	Initial      string                     `json:"initial"`
	Context      map[string]any             `json:"context"`
	Entry        []string                   `json:"entry"`
	Exit         []string                   `json:"exit"`
	On           map[string]json.RawMessage `json:"on"`
	After        map[string]json.RawMessage `json:"after"`
	Always       json.RawMessage            `json:"always"`
	States       map[string]wireNode        `json:"states"`
	EventSchemas map[string]json.RawMessage `json:"eventSchemas"`
}

// Result bundles the resolved graph with its optional compiled event
// schemas, for hosts that want to validate payloads at the boundary.
type Result struct {
	Graph   primitives.MachineConfig
	Schemas *EventSchemas
}

// Load parses a wire JSON machine definition into a validated
// primitives.MachineConfig. The returned graph has Path and Index already
// resolved. Load is pure: it performs name resolution and structural
// validation only; it never checks that action/guard symbols exist in any
// host table (that binding happens at core.NewMachine).
func Load(data []byte) (Result, error) {
	var root wireNode
	if err := json.Unmarshal(data, &root); err != nil {
		return Result{}, newErr(MalformedJSON, "", "%v", err)
	}
	if root.ID == "" {
		return Result{}, newErr(MalformedJSON, "", "root state requires an id")
	}

	schemas, err := compileEventSchemas(root.EventSchemas)
	if err != nil {
		return Result{}, err
	}

	stateRoot, err := convertNode(root, "")
	if err != nil {
		return Result{}, err
	}

	graph := primitives.MachineConfig{
		ID:      root.ID,
		Root:    stateRoot,
		Context: root.Context,
	}
	primitives.ResolvePaths(graph.Root, "")
	graph.Index = graph.Root.Flatten()

	if err := resolveTargets(graph.Root, graph.Index); err != nil {
		return Result{}, err
	}
	if err := checkInitialCycles(graph.Root, make(map[string]bool)); err != nil {
		return Result{}, err
	}
	if err := graph.Validate(); err != nil {
		return Result{}, newErr(UnknownTarget, "", "%v", err)
	}

	return Result{Graph: graph, Schemas: schemas}, nil
}

func convertNode(w wireNode, parentPath string) (*primitives.StateConfig, error) {
	path := w.ID
	if parentPath != "" {
		path = parentPath + "." + w.ID
	}

	typ := inferType(w)
	s := primitives.NewStateConfig(w.ID, typ)
	s.Initial = w.Initial
	s.Entry = append([]string(nil), w.Entry...)
	s.Exit = append([]string(nil), w.Exit...)

	if typ == primitives.Parallel && w.Initial != "" {
		return nil, newErr(InvalidParallelInitial, path, "parallel state must not declare initial")
	}
	if typ == primitives.Compound && len(w.States) == 0 {
		return nil, newErr(EmptyCompound, path, "compound state requires at least one child")
	}

	seen := make(map[string]bool, len(w.States))
	for name, child := range w.States {
		if seen[name] {
			return nil, newErr(DuplicateChild, path, "duplicate child id %q", name)
		}
		seen[name] = true
		child.ID = name
		childCfg, err := convertNode(child, path)
		if err != nil {
			return nil, err
		}
		s.AddChild(childCfg)
	}

	for event, raw := range w.On {
		transList, err := parseTransitionSpec(raw, path, event)
		if err != nil {
			return nil, err
		}
		for _, t := range transList {
			s.AddTransition(event, t)
		}
	}

	if len(w.Always) > 0 {
		transList, err := parseTransitionSpec(w.Always, path, "always")
		if err != nil {
			return nil, err
		}
		s.Always = append(s.Always, transList...)
	}

	for delayRaw, raw := range w.After {
		delayMs, err := parseDelay(delayRaw)
		if err != nil {
			return nil, err
		}
		transList, err := parseTransitionSpec(raw, path, fmt.Sprintf("after(%s)", delayRaw))
		if err != nil {
			return nil, err
		}
		for _, t := range transList {
			s.AddAfter(delayMs, t)
		}
	}

	return s, nil
}

func inferType(w wireNode) primitives.StateType {
	switch w.Type {
	case "parallel":
		return primitives.Parallel
	case "final":
		return primitives.Final
	case "shallowHistory":
		return primitives.ShallowHistory
	case "atomic":
		return primitives.Atomic
	case "compound":
		return primitives.Compound
	}
	if len(w.States) > 0 {
		return primitives.Compound
	}
	return primitives.Atomic
}

// parseTransitionSpec decodes the polymorphic transitionSpec: a bare
// string target, a single object, or an array of objects (guarded list,
// first-match-wins, preserving declared order).
func parseTransitionSpec(raw json.RawMessage, statePath, where string) ([]primitives.TransitionConfig, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var target string
		if err := json.Unmarshal(raw, &target); err != nil {
			return nil, newErr(MalformedJSON, statePath, "%s: %v", where, err)
		}
		return []primitives.TransitionConfig{{Targets: targetsOf(target)}}, nil
	case '[':
		var items []wireTransition
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, newErr(MalformedJSON, statePath, "%s: %v", where, err)
		}
		out := make([]primitives.TransitionConfig, 0, len(items))
		for _, it := range items {
			out = append(out, wireToTransition(it))
		}
		return out, nil
	case '{':
		var item wireTransition
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, newErr(MalformedJSON, statePath, "%s: %v", where, err)
		}
		return []primitives.TransitionConfig{wireToTransition(item)}, nil
	default:
		return nil, newErr(MalformedJSON, statePath, "%s: unrecognized transitionSpec", where)
	}
}

func wireToTransition(w wireTransition) primitives.TransitionConfig {
	return primitives.TransitionConfig{
		Targets:  targetsOf(w.Target),
		Guard:    w.Cond,
		Actions:  append([]string(nil), w.Actions...),
		Internal: w.Internal,
	}
}

func targetsOf(target string) []string {
	if target == "" {
		return nil
	}
	return []string{target}
}

func trimSpace(raw json.RawMessage) json.RawMessage {
	i, j := 0, len(raw)
	for i < j && isJSONSpace(raw[i]) {
		i++
	}
	for j > i && isJSONSpace(raw[j-1]) {
		j--
	}
	return raw[i:j]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// resolveTargets rewrites every transition target from its wire form
// (childName sibling, or dotted absolute path) to the fully-qualified
// dotted path, validating that it resolves to a real node.
func resolveTargets(s *primitives.StateConfig, index map[string]*primitives.StateConfig) error {
	resolve := func(transList []primitives.TransitionConfig, where string) error {
		for i := range transList {
			for j, target := range transList[i].Targets {
				resolved, err := resolveOneTarget(s, target, index)
				if err != nil {
					return newErr(UnknownTarget, s.Path, "%s: target %q does not resolve", where, target)
				}
				transList[i].Targets[j] = resolved
			}
		}
		return nil
	}
	for event, transList := range s.On {
		if err := resolve(transList, "on "+event); err != nil {
			return err
		}
	}
	if err := resolve(s.Always, "always"); err != nil {
		return err
	}
	for delay, transList := range s.After {
		if err := resolve(transList, fmt.Sprintf("after(%d)", delay)); err != nil {
			return err
		}
	}
	for _, child := range s.Children {
		if err := resolveTargets(child, index); err != nil {
			return err
		}
	}
	return nil
}

// resolveOneTarget resolves target against the sibling scope of s first
// (bare childName), then as an absolute dotted path from root.
func resolveOneTarget(s *primitives.StateConfig, target string, index map[string]*primitives.StateConfig) (string, error) {
	if s.Parent != nil {
		siblingPath := s.Parent.Path + "." + target
		if _, ok := index[siblingPath]; ok {
			return siblingPath, nil
		}
	}
	if _, ok := index[target]; ok {
		return target, nil
	}
	return "", fmt.Errorf("unresolved target %q", target)
}

// checkInitialCycles walks every compound node's Initial chain and rejects
// definitions where it does not terminate at a leaf within a bounded number
// of hops (a cycle among compound Initial pointers).
func checkInitialCycles(s *primitives.StateConfig, globalSeen map[string]bool) error {
	if s.Type == primitives.Compound {
		seen := make(map[string]bool)
		cur := s
		for cur.Type == primitives.Compound {
			if seen[cur.Path] {
				return newErr(CycleInInitial, cur.Path, "initial chain does not terminate")
			}
			seen[cur.Path] = true
			next := cur.ChildByID(cur.Initial)
			if next == nil {
				break
			}
			cur = next
		}
	}
	for _, child := range s.Children {
		if err := checkInitialCycles(child, globalSeen); err != nil {
			return err
		}
	}
	return nil
}
