package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"graphchat/internal/logging"
)

// Fact is a single logical fact in the kernel's extensional database.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String returns the Datalog source representation of the fact.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		default:
			args = append(args, fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// graphRules is the intensional database: derived relations over edge facts.
// edge(Src, Dst, Relation) is the only extensional predicate.
const graphRules = `
neighbour(X, Y) :- edge(X, Y, _).
neighbour(X, Y) :- edge(Y, X, _).
calls(X, Y) :- edge(X, Y, "calls").
reachable(X, Y) :- edge(X, Y, _).
reachable(X, Z) :- edge(X, Y, _), reachable(Y, Z).
`

// Kernel evaluates Datalog queries over a project's graph edges using the
// Mangle engine. Facts are evaluated to fixpoint on load; queries read the
// derived store.
type Kernel struct {
	mu          sync.RWMutex
	facts       []Fact
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
	initialized bool
}

// NewKernel creates an empty kernel.
func NewKernel() *Kernel {
	return &Kernel{
		facts: make([]Fact, 0),
		store: factstore.NewSimpleInMemoryStore(),
	}
}

// LoadProject seeds the kernel with a project's edges and evaluates the
// rule set to fixpoint.
func (k *Kernel) LoadProject(edges [][3]string) error {
	timer := logging.StartTimer(logging.CategoryGraph, "Kernel.LoadProject")
	defer timer.Stop()

	k.mu.Lock()
	defer k.mu.Unlock()

	k.facts = k.facts[:0]
	for _, e := range edges {
		k.facts = append(k.facts, Fact{
			Predicate: "edge",
			Args:      []interface{}{e[0], e[1], e[2]},
		})
	}
	return k.rebuild()
}

// rebuild reconstructs the program and evaluates to fixpoint. Callers hold k.mu.
func (k *Kernel) rebuild() error {
	if len(k.facts) == 0 {
		// Nothing to derive from; queries answer empty.
		k.programInfo = nil
		k.store = factstore.NewSimpleInMemoryStore()
		k.initialized = true
		return nil
	}

	var sb strings.Builder
	for _, f := range k.facts {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	sb.WriteString(graphRules)

	parsed, err := parse.Unit(strings.NewReader(sb.String()))
	if err != nil {
		return fmt.Errorf("failed to parse graph program: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parsed, nil)
	if err != nil {
		return fmt.Errorf("failed to analyze graph program: %w", err)
	}
	k.programInfo = programInfo

	strata, predToStratum, err := analysis.Stratify(analysis.Program{
		EdbPredicates: programInfo.EdbPredicates,
		IdbPredicates: programInfo.IdbPredicates,
		Rules:         programInfo.Rules,
	})
	if err != nil {
		return fmt.Errorf("failed to stratify graph program: %w", err)
	}

	k.store = factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalStratifiedProgramWithStats(programInfo, strata, predToStratum, k.store); err != nil {
		return fmt.Errorf("failed to evaluate graph program: %w", err)
	}

	k.initialized = true
	logging.Graph("Kernel evaluated: %d edge facts", len(k.facts))
	return nil
}

// Query retrieves all derived facts matching a predicate.
func (k *Kernel) Query(predicate string) ([]Fact, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if !k.initialized {
		return nil, fmt.Errorf("graph kernel not initialized")
	}

	results := make([]Fact, 0)
	if k.programInfo == nil {
		return results, nil
	}

	for pred := range k.programInfo.Decls {
		if pred.Symbol != predicate {
			continue
		}
		err := k.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			results = append(results, atomToFact(a))
			return nil
		})
		if err != nil {
			return nil, err
		}
		break
	}
	return results, nil
}

// Neighbours returns the ids of nodes adjacent to the given node, in either
// edge direction.
func (k *Kernel) Neighbours(nodeID string) ([]string, error) {
	facts, err := k.Query("neighbour")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, f := range facts {
		if len(f.Args) != 2 {
			continue
		}
		src, _ := f.Args[0].(string)
		dst, _ := f.Args[1].(string)
		if src == nodeID && !seen[dst] {
			seen[dst] = true
			out = append(out, dst)
		}
	}
	return out, nil
}

// atomToFact converts a Mangle AST atom back to a Fact.
func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, term := range a.Args {
		args[i] = baseTermToValue(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

// baseTermToValue extracts the Go value from a Mangle base term.
func baseTermToValue(term ast.BaseTerm) interface{} {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType, ast.StringType:
			return t.Symbol
		case ast.NumberType:
			return t.NumValue
		default:
			return t.Symbol
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}
