// Package analyzer turns a flat step list into must-happen-before edges by
// looking at the paths each step reads, writes, creates and deletes.
package analyzer

import (
	"fmt"
	"path/filepath"
	"sort"

	flowerrors "github.com/davidroman0O/contestflow/errors"
	"github.com/davidroman0O/contestflow/request"
	"github.com/davidroman0O/contestflow/workflow"
)

// EdgeType names the rule that produced an edge
type EdgeType string

const (
	EdgeFileCreation EdgeType = "file_creation"
	EdgeDirCreation  EdgeType = "dir_creation"
	EdgeParentDir    EdgeType = "parent_dir"
	EdgeExecOrder    EdgeType = "exec_order"
	EdgeDeletion     EdgeType = "deletion"
	EdgeOverwrite    EdgeType = "overwrite"
)

// Edge means From must finish before To starts
type Edge struct {
	From        string
	To          string
	Type        EdgeType
	Resource    string
	Description string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s (%s)", e.From, e.To, e.Type)
}

// Resources are the resolved paths a step touches
type Resources struct {
	Reads   []string
	Writes  []string
	Creates []string // directories
	Deletes []string
}

// Analysis is the analyzer output. Steps includes synthesized directory
// steps, placed before the first step that needs them.
type Analysis struct {
	Steps     []workflow.Step
	Edges     []Edge
	Resources map[string]Resources
}

// SyntheticID is the ID given to a generated directory step
func SyntheticID(dir string) string {
	return "mkdir:" + dir
}

type analysis struct {
	steps []workflow.Step
	res   []Resources
	index map[string]int
	edges []Edge
	pairs map[[2]string]int
}

// Analyze validates steps, assigns missing IDs and infers the edge set.
// Cycles are left for the graph builder; unordered writers of the same
// resource are a ResourceConflict error.
func Analyze(steps []workflow.Step) (*Analysis, error) {
	const op = "analyze"
	steps = workflow.AssignIDs(steps)

	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.ID] {
			return nil, flowerrors.Validationf(op, "duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	for _, s := range steps {
		for _, dep := range s.After {
			if !seen[dep] {
				return nil, flowerrors.Validationf(op, "step %s runs after unknown step %q", s.ID, dep)
			}
		}
	}

	a := &analysis{pairs: make(map[[2]string]int)}
	res := make([]Resources, len(steps))
	for i, s := range steps {
		res[i] = Extract(s)
	}
	a.steps, a.res = synthesizeParents(steps, res)
	a.index = make(map[string]int, len(a.steps))
	for i, s := range a.steps {
		a.index[s.ID] = i
	}

	a.parentDirEdges()
	a.fileCreationEdges()
	a.dirCreationEdges()
	a.explicitEdges()
	a.overwriteEdges()
	a.deletionEdges()

	if err := a.checkConflicts(); err != nil {
		return nil, err
	}

	sort.SliceStable(a.edges, func(i, j int) bool {
		ei, ej := a.edges[i], a.edges[j]
		if ei.From != ej.From {
			return ei.From < ej.From
		}
		return ei.To < ej.To
	})

	out := &Analysis{Steps: a.steps, Edges: a.edges, Resources: make(map[string]Resources, len(a.steps))}
	for i, s := range a.steps {
		out.Resources[s.ID] = a.res[i]
	}
	return out, nil
}

// add inserts an inferred edge unless the pair is already ordered
func (a *analysis) add(e Edge) {
	if e.From == e.To {
		return
	}
	key := [2]string{e.From, e.To}
	if _, ok := a.pairs[key]; ok {
		return
	}
	a.pairs[key] = len(a.edges)
	a.edges = append(a.edges, e)
}

func (a *analysis) ordered(x, y string) bool {
	_, fwd := a.pairs[[2]string{x, y}]
	_, back := a.pairs[[2]string{y, x}]
	return fwd || back
}

// parentDirEdges orders synthesized directory steps before every writer
func (a *analysis) parentDirEdges() {
	for i, s := range a.steps {
		if !s.Generated {
			continue
		}
		dir := a.res[i].Creates[0]
		for j, r := range a.res {
			if j == i {
				continue
			}
			for _, w := range r.Writes {
				if parent(w) == dir {
					a.add(Edge{
						From:        s.ID,
						To:          a.steps[j].ID,
						Type:        EdgeParentDir,
						Resource:    dir,
						Description: fmt.Sprintf("%s needs directory %s", a.steps[j].ID, dir),
					})
					break
				}
			}
		}
	}
}

// fileCreationEdges: writer -> later reader of the same path, or of a path
// inside a written tree
func (a *analysis) fileCreationEdges() {
	for i, w := range a.res {
		for j := i + 1; j < len(a.res); j++ {
			for _, written := range w.Writes {
				if path, ok := firstWithin(a.res[j].Reads, written); ok {
					a.add(Edge{
						From:        a.steps[i].ID,
						To:          a.steps[j].ID,
						Type:        EdgeFileCreation,
						Resource:    path,
						Description: fmt.Sprintf("%s reads %s written by %s", a.steps[j].ID, path, a.steps[i].ID),
					})
					break
				}
			}
		}
	}
}

// dirCreationEdges: creator of a directory -> later steps touching inside it
func (a *analysis) dirCreationEdges() {
	for i, c := range a.res {
		for _, dir := range c.Creates {
			for j := i + 1; j < len(a.res); j++ {
				if path, ok := firstStrictlyWithin(a.res[j].all(), dir); ok {
					a.add(Edge{
						From:        a.steps[i].ID,
						To:          a.steps[j].ID,
						Type:        EdgeDirCreation,
						Resource:    dir,
						Description: fmt.Sprintf("%s uses %s inside directory created by %s", a.steps[j].ID, path, a.steps[i].ID),
					})
				}
			}
		}
	}
}

// explicitEdges adds After hints verbatim. A same-direction inferred edge
// is replaced; a reversed one stays and surfaces as a cycle.
func (a *analysis) explicitEdges() {
	for _, s := range a.steps {
		for _, dep := range s.After {
			e := Edge{
				From:        dep,
				To:          s.ID,
				Type:        EdgeExecOrder,
				Description: fmt.Sprintf("%s declared after %s", s.ID, dep),
			}
			if idx, ok := a.pairs[[2]string{dep, s.ID}]; ok {
				a.edges[idx] = e
				continue
			}
			a.add(e)
		}
	}
}

// overwriteEdges keep a reader ahead of a later step that rewrites what it
// read, unless the pair is already ordered
func (a *analysis) overwriteEdges() {
	for i, r := range a.res {
		for j := i + 1; j < len(a.res); j++ {
			if a.ordered(a.steps[i].ID, a.steps[j].ID) {
				continue
			}
			for _, written := range a.res[j].Writes {
				if path, ok := firstWithin(r.Reads, written); ok {
					a.add(Edge{
						From:        a.steps[i].ID,
						To:          a.steps[j].ID,
						Type:        EdgeOverwrite,
						Resource:    path,
						Description: fmt.Sprintf("%s rewrites %s read by %s", a.steps[j].ID, path, a.steps[i].ID),
					})
					break
				}
			}
		}
	}
}

// deletionEdges order a deleting step after earlier users of the deleted
// path and before later ones, unless the pair is already ordered
func (a *analysis) deletionEdges() {
	for i, d := range a.res {
		for _, del := range d.Deletes {
			for j, r := range a.res {
				if i == j || a.ordered(a.steps[i].ID, a.steps[j].ID) {
					continue
				}
				if !r.touches(del) {
					continue
				}
				from, to := j, i
				if j > i {
					from, to = i, j
				}
				a.add(Edge{
					From:        a.steps[from].ID,
					To:          a.steps[to].ID,
					Type:        EdgeDeletion,
					Resource:    del,
					Description: fmt.Sprintf("%s deletes %s", a.steps[i].ID, del),
				})
			}
		}
	}
}

// checkConflicts rejects two writers of one path with no path between them
func (a *analysis) checkConflicts() error {
	writers := make(map[string][]int)
	var paths []string
	for i, r := range a.res {
		for _, w := range dedupe(r.Writes) {
			if _, ok := writers[w]; !ok {
				paths = append(paths, w)
			}
			writers[w] = append(writers[w], i)
		}
	}

	adj := make(map[string][]string, len(a.steps))
	for _, e := range a.edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	for _, p := range paths {
		ws := writers[p]
		for x := 0; x < len(ws); x++ {
			for y := x + 1; y < len(ws); y++ {
				first, second := a.steps[ws[x]].ID, a.steps[ws[y]].ID
				if reachable(adj, first, second) || reachable(adj, second, first) {
					continue
				}
				return &flowerrors.Error{
					Code:    flowerrors.ErrResourceConflict,
					Op:      "analyze",
					Message: fmt.Sprintf("steps %s and %s both write %s with no ordering between them; add an explicit after", first, second, p),
					Context: map[string]interface{}{"resource": p, "steps": []string{first, second}},
				}
			}
		}
	}
	return nil
}

func reachable(adj map[string][]string, from, to string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[n] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// synthesizeParents adds one mkdir step per parent directory shared by two
// or more writers that no step creates. Directories at or above a writer's
// working directory are assumed to exist.
func synthesizeParents(steps []workflow.Step, res []Resources) ([]workflow.Step, []Resources) {
	created := make(map[string]bool)
	for _, r := range res {
		for _, c := range r.Creates {
			created[c] = true
		}
	}

	writersOf := make(map[string]map[int]bool)
	firstUse := make(map[string]int)
	var dirs []string
	for i, r := range res {
		for _, w := range r.Writes {
			dir := parent(w)
			if dir == "." || dir == string(filepath.Separator) || created[dir] {
				continue
			}
			if wd := steps[i].WorkingDirectory; wd != "" && within(filepath.Clean(wd), dir) {
				continue
			}
			if writersOf[dir] == nil {
				writersOf[dir] = make(map[int]bool)
				firstUse[dir] = i
				dirs = append(dirs, dir)
			}
			writersOf[dir][i] = true
		}
	}

	insertAt := make(map[int][]string)
	for _, dir := range dirs {
		if len(writersOf[dir]) >= 2 {
			insertAt[firstUse[dir]] = append(insertAt[firstUse[dir]], dir)
		}
	}
	if len(insertAt) == 0 {
		return steps, res
	}

	outSteps := make([]workflow.Step, 0, len(steps)+len(insertAt))
	outRes := make([]Resources, 0, len(res)+len(insertAt))
	for i, s := range steps {
		for _, dir := range insertAt[i] {
			outSteps = append(outSteps, workflow.Step{
				ID:           SyntheticID(dir),
				Name:         "create " + dir,
				Kind:         workflow.KindFile,
				FileOp:       workflow.FileMkdir,
				Command:      []string{dir},
				AllowFailure: true,
				Generated:    true,
			})
			outRes = append(outRes, Resources{Creates: []string{dir}})
		}
		outSteps = append(outSteps, s)
		outRes = append(outRes, res[i])
	}
	return outSteps, outRes
}

// Extract returns the resolved resources of one step, declared and inferred
func Extract(s workflow.Step) Resources {
	var r Resources
	cwd := s.WorkingDirectory
	add := func(list *[]string, paths ...string) {
		for _, p := range paths {
			if p != "" {
				*list = append(*list, request.Resolve(cwd, p))
			}
		}
	}

	add(&r.Reads, s.Reads...)
	add(&r.Writes, s.Writes...)

	switch s.Kind {
	case workflow.KindFile:
		cmd := s.Command
		switch s.FileOp {
		case workflow.FileMkdir:
			add(&r.Creates, cmd...)
		case workflow.FileTouch, workflow.FileWrite:
			add(&r.Writes, cmd...)
		case workflow.FileCopy, workflow.FileCopyTree:
			if len(cmd) == 2 {
				add(&r.Reads, cmd[0])
				add(&r.Writes, cmd[1])
			}
		case workflow.FileMove, workflow.FileMoveTree:
			if len(cmd) == 2 {
				add(&r.Reads, cmd[0])
				add(&r.Deletes, cmd[0])
				add(&r.Writes, cmd[1])
			}
		case workflow.FileRemove, workflow.FileRemoveTree:
			add(&r.Deletes, cmd...)
		}
	case workflow.KindShell:
		acc := inferShell(s.Command)
		add(&r.Reads, acc.reads...)
		add(&r.Writes, acc.writes...)
		add(&r.Creates, acc.creates...)
	case workflow.KindScript:
		if s.Script != nil && s.Script.Source == "" && len(s.Command) > 0 {
			add(&r.Reads, s.Command[0])
		}
	case workflow.KindComposite:
		for _, child := range s.Children {
			if child.WorkingDirectory == "" {
				child.WorkingDirectory = cwd
			}
			c := Extract(child)
			r.Reads = append(r.Reads, c.Reads...)
			r.Writes = append(r.Writes, c.Writes...)
			r.Creates = append(r.Creates, c.Creates...)
			r.Deletes = append(r.Deletes, c.Deletes...)
		}
	}

	r.Reads = dedupe(r.Reads)
	r.Writes = dedupe(r.Writes)
	r.Creates = dedupe(r.Creates)
	r.Deletes = dedupe(r.Deletes)
	return r
}

func (r Resources) all() []string {
	out := make([]string, 0, len(r.Reads)+len(r.Writes)+len(r.Creates)+len(r.Deletes))
	out = append(out, r.Reads...)
	out = append(out, r.Writes...)
	out = append(out, r.Creates...)
	return append(out, r.Deletes...)
}

// touches reports whether any resource is p, inside p, or a directory
// containing p
func (r Resources) touches(p string) bool {
	for _, q := range r.all() {
		if within(q, p) || within(p, q) {
			return true
		}
	}
	return false
}

func parent(p string) string {
	return filepath.Dir(p)
}

// within reports whether p is dir or lies under it
func within(p, dir string) bool {
	if p == dir {
		return true
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !hasDotDotPrefix(rel) && !filepath.IsAbs(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}

func firstWithin(paths []string, dir string) (string, bool) {
	for _, p := range paths {
		if within(p, dir) {
			return p, true
		}
	}
	return "", false
}

func firstStrictlyWithin(paths []string, dir string) (string, bool) {
	for _, p := range paths {
		if p != dir && within(p, dir) {
			return p, true
		}
	}
	return "", false
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
