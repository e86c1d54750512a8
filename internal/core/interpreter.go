// The microstep algorithm: selecting the enabled transition set for an
// event against the current Configuration, resolving conflicts between
// parallel regions, and computing the exit/entry sequence around each
// selected transition's least common compound ancestor (LCCA).
package core

import (
	"strings"

	"github.com/cmpforge/statefabric/internal/primitives"
)

// selectedTransition pairs a transition with the path of the state that
// declared it (which may be an ancestor of the leaf that triggered the
// search).
type selectedTransition struct {
	sourcePath string
	trans      primitives.TransitionConfig
}

// computeLCCA returns the longest common dotted prefix of source and target:
// the source itself when the target lies inside it, the target itself when
// the source lies inside it, and the source's parent for a self-transition
// (source == target). Returns "" when the paths share no leading segment,
// or for a self-transition on a single-segment (root) path.
func computeLCCA(sourcePath, targetPath string) string {
	source := strings.Split(sourcePath, ".")
	target := strings.Split(targetPath, ".")

	minLen := len(source)
	if len(target) < minLen {
		minLen = len(target)
	}

	lcaIndex := 0
	for lcaIndex < minLen && source[lcaIndex] == target[lcaIndex] {
		lcaIndex++
	}
	// A self-transition still exits and re-enters the source, so its LCCA
	// is the source's parent.
	if lcaIndex == len(source) && sourcePath == targetPath {
		lcaIndex--
	}
	if lcaIndex <= 0 {
		return ""
	}
	return strings.Join(source[:lcaIndex], ".")
}

// lccaOfSet returns the LCCA across a source path and multiple target
// paths (parallel transitions with several targets).
func lccaOfSet(sourcePath string, targetPaths []string) string {
	if len(targetPaths) == 0 {
		return parentPath(sourcePath)
	}
	lcca := computeLCCA(sourcePath, targetPaths[0])
	for _, t := range targetPaths[1:] {
		candidate := computeLCCA(sourcePath, t)
		if len(strings.Split(candidate, ".")) < len(strings.Split(lcca, ".")) {
			lcca = candidate
		}
	}
	return lcca
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// getAncestors returns all ancestor paths of a path, root first, including
// the path itself.
func getAncestors(leafPath string) []string {
	segments := strings.Split(leafPath, ".")
	ancestors := make([]string, len(segments))
	current := ""
	for i, seg := range segments {
		if current != "" {
			current += "."
		}
		current += seg
		ancestors[i] = current
	}
	return ancestors
}

// getExitStates returns the states to exit, ordered innermost first, for a
// transition leaving sourcePath up to (but not including) lccaPath.
func getExitStates(sourcePath, lccaPath string) []string {
	if lccaPath == "" {
		return getAncestorsReversed(sourcePath)
	}
	if sourcePath == lccaPath {
		return nil
	}
	if !strings.HasPrefix(sourcePath, lccaPath+".") {
		return getAncestorsReversed(sourcePath)
	}
	source := strings.Split(sourcePath, ".")
	lccaSegs := strings.Split(lccaPath, ".")
	exitSegs := source[len(lccaSegs):]

	paths := make([]string, 0, len(exitSegs))
	current := lccaPath
	for _, seg := range exitSegs {
		current += "." + seg
		paths = append(paths, current)
	}
	// innermost first
	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}
	return paths
}

func getAncestorsReversed(path string) []string {
	a := getAncestors(path)
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
	return a
}

// getEntryStates returns the states to enter, ordered outer first, from
// lccaPath down to targetPath.
func getEntryStates(lccaPath, targetPath string) []string {
	if lccaPath == "" {
		return getAncestors(targetPath)
	}
	if targetPath == lccaPath {
		return nil
	}
	if !strings.HasPrefix(targetPath, lccaPath+".") {
		return getAncestors(targetPath)
	}
	lccaSegs := strings.Split(lccaPath, ".")
	targetSegs := strings.Split(targetPath, ".")
	entrySegs := targetSegs[len(lccaSegs):]

	paths := make([]string, 0, len(entrySegs))
	current := lccaPath
	for _, seg := range entrySegs {
		current += "." + seg
		paths = append(paths, current)
	}
	return paths
}

// resolveInitialLeaves expands path to the set of leaf paths reached by
// repeatedly descending into Initial children (compound) or all children
// (parallel), until atomic/final/shallow-history nodes are reached.
func resolveInitialLeaves(config *primitives.MachineConfig, path string) []string {
	state, err := config.FindState(path)
	if err != nil {
		return []string{path}
	}
	switch state.Type {
	case primitives.Compound:
		if state.Initial == "" {
			return []string{path}
		}
		return resolveInitialLeaves(config, path+"."+state.Initial)
	case primitives.Parallel:
		var leaves []string
		for _, child := range state.Children {
			leaves = append(leaves, resolveInitialLeaves(config, path+"."+child.ID)...)
		}
		return leaves
	default:
		return []string{path}
	}
}

// selectTransitions implements the per-event selection pass: for each
// active leaf, walk from leaf to root (innermost first) and take the first
// transition (in document order) for the given event whose guard passes.
// One candidate per leaf at most. eventType == "" selects Always
// transitions instead of an On map lookup, and a synthetic
// "after(<delayMs>)@<path>" event selects the After list of the state at
// <path> for that delay. Only states on an active leaf's ancestor chain are
// searched, so an after-event for a state that is no longer active is ignored.
func selectTransitions(config *primitives.MachineConfig, activeLeaves []string, eventType string, event primitives.Event, guards GuardTable, ctx *primitives.Context) []selectedTransition {
	var picked []selectedTransition
	seen := make(map[string]bool)
	for _, leaf := range activeLeaves {
		for _, ancestorPath := range getAncestorsReversed(leaf) {
			if seen[ancestorPath] {
				break // already claimed by a previous leaf in this region
			}
			state, err := config.FindState(ancestorPath)
			if err != nil {
				continue
			}
			var candidates []primitives.TransitionConfig
			if eventType == "" {
				candidates = state.Always
			} else {
				candidates = state.On[eventType]
				for delayMs, afterList := range state.After {
					if afterEventType(delayMs, ancestorPath) == eventType {
						candidates = afterList
					}
				}
			}
			matched := false
			for _, t := range candidates {
				if guardPasses(t.Guard, guards, event, ctx) {
					picked = append(picked, selectedTransition{sourcePath: ancestorPath, trans: t})
					seen[ancestorPath] = true
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return removeConflicting(picked)
}

// guardPasses evaluates the named guard, failing closed (false) both when
// the symbol is unbound and when the guard itself panics -- a throwing
// predicate is treated as "condition not met", never propagated into the
// interpreter goroutine.
func guardPasses(symbol string, guards GuardTable, event primitives.Event, ctx *primitives.Context) (passed bool) {
	if symbol == "" {
		return true
	}
	fn, ok := guards[symbol]
	if !ok {
		return false
	}
	defer func() {
		if recover() != nil {
			passed = false
		}
	}()
	return fn(ctx, event)
}

// removeConflicting drops later-selected transitions whose source is an
// ancestor/descendant of (or equal to) an earlier-selected transition's
// source — they would exit overlapping regions. Earlier in document/leaf
// scan order wins, matching the interpreter's deterministic first-match
// policy.
func removeConflicting(candidates []selectedTransition) []selectedTransition {
	var kept []selectedTransition
	for _, c := range candidates {
		conflict := false
		for _, k := range kept {
			if c.sourcePath == k.sourcePath ||
				strings.HasPrefix(c.sourcePath+".", k.sourcePath+".") ||
				strings.HasPrefix(k.sourcePath+".", c.sourcePath+".") {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, c)
		}
	}
	return kept
}
