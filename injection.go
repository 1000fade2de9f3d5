// Package injection resolves constructor arguments for tested objects.
//
// Given a constructor and one provider per parameter, the resolver decides
// where each argument comes from: an explicitly registered injectable, a
// recursively constructed nested dependency, a fallback-created instance,
// or (for a variadic trailing parameter) every remaining candidate of the
// element type. Consumption of pool candidates is checkpointed around each
// resolution so that sibling and nested resolutions never observe partial
// consumption left behind by one another.
package injection

import (
	"maps"
	"reflect"
	"slices"

	"github.com/pkg/errors"
)

var (
	ErrInvalidConstructor  = errors.New("constructor must be a function returning a value and an optional trailing error")
	ErrProviderMismatch    = errors.New("provider count does not match constructor parameters")
	ErrMissingInjectable   = errors.New("no injectable value available")
	ErrMissingTested       = errors.New("missing tested object or injectable")
	ErrNoFallback          = errors.New("no fallback instance provider configured")
	ErrTypeAlreadyProvided = errors.New("type already provided")
	ErrCircularDependency  = errors.New("circular dependency detected")
)

// lookup is the three-state result of asking the pool for a value:
// the candidate may be absent, carry a concrete value, or be registered
// as intentionally nil.
type lookup struct {
	state lookupState
	value any
}

type lookupState int

const (
	lookupAbsent lookupState = iota
	lookupValue
	lookupNil
)

// checkpoint is an opaque snapshot of which candidates have been consumed.
type checkpoint map[*Injectable]bool

// Pool is the registry of injectable candidates eligible to satisfy
// injection points, together with consumption bookkeeping.
//
// A Pool serves a single top-level instantiation tree at a time; nested
// resolution shares the pool through recursion, not through concurrent
// goroutines, so the pool performs no locking of its own.
type Pool struct {
	candidates []*Injectable
	consumed   map[*Injectable]bool
	targetType reflect.Type
}

func NewPool() *Pool {
	return &Pool{
		consumed: map[*Injectable]bool{},
	}
}

// Register adds a candidate whose declared type is taken from the value.
// The value must be non-nil; use RegisterNil for an intentionally nil
// candidate.
func (p *Pool) Register(name string, value any) *Injectable {
	if value == nil {
		panic("injection: Register called with nil value, use RegisterNil")
	}
	return p.add(&Injectable{name: name, typ: reflect.TypeOf(value), value: value})
}

// RegisterAs adds a candidate under an explicit declared type, typically
// an interface type the value implements.
func (p *Pool) RegisterAs(name string, typ reflect.Type, value any) *Injectable {
	if value == nil {
		panic("injection: RegisterAs called with nil value, use RegisterNil")
	}
	if !reflect.TypeOf(value).AssignableTo(typ) {
		panic("injection: RegisterAs value is not assignable to the declared type")
	}
	return p.add(&Injectable{name: name, typ: typ, value: value})
}

// RegisterNil adds a candidate that resolves to an intentionally nil
// argument rather than being treated as absent.
func (p *Pool) RegisterNil(name string, typ reflect.Type) *Injectable {
	return p.add(&Injectable{name: name, typ: typ, explicitNil: true})
}

func (p *Pool) add(inj *Injectable) *Injectable {
	p.candidates = append(p.candidates, inj)
	return inj
}

// setTypeOfInjectionPoint sets the type context used by
// findNextForInjectionPoint.
func (p *Pool) setTypeOfInjectionPoint(typ reflect.Type) {
	p.targetType = typ
}

// valueFor resolves a provider against the pool, consuming the matched
// candidate. A provider that is itself a registered candidate matches
// exactly; otherwise the first unconsumed candidate assignable to the
// provider's declared type (with name narrowing when both sides carry a
// name) is taken. Candidates are always considered in registration order.
func (p *Pool) valueFor(inj *Injectable) lookup {
	if p.registered(inj) {
		if p.consumed[inj] {
			return lookup{state: lookupAbsent}
		}
		return p.consume(inj)
	}
	if found := p.findInjectable(inj.typ, inj.name); found != nil {
		return p.consume(found)
	}
	return lookup{state: lookupAbsent}
}

func (p *Pool) registered(inj *Injectable) bool {
	return slices.Contains(p.candidates, inj)
}

func (p *Pool) consume(inj *Injectable) lookup {
	p.consumed[inj] = true
	if inj.explicitNil {
		return lookup{state: lookupNil}
	}
	return lookup{state: lookupValue, value: inj.value}
}

// findInjectable returns the first unconsumed candidate assignable to typ,
// without consuming it. A non-empty name narrows the match against
// candidates that also carry a name.
func (p *Pool) findInjectable(typ reflect.Type, name string) *Injectable {
	for _, cand := range p.candidates {
		if p.consumed[cand] {
			continue
		}
		if !cand.typ.AssignableTo(typ) {
			continue
		}
		if name != "" && cand.name != "" && cand.name != name {
			continue
		}
		return cand
	}
	return nil
}

// findNextForInjectionPoint returns the next unconsumed candidate
// assignable to the current injection point type, in registration order,
// or nil when none remain. It does not consume the candidate; valueFor
// does.
func (p *Pool) findNextForInjectionPoint() *Injectable {
	if p.targetType == nil {
		return nil
	}
	return p.findInjectable(p.targetType, "")
}

// saveConsumed snapshots the consumed set. Every snapshot must be restored
// exactly once; callers restore via defer so the error path is covered.
func (p *Pool) saveConsumed() checkpoint {
	return maps.Clone(p.consumed)
}

func (p *Pool) restoreConsumed(cp checkpoint) {
	p.consumed = cp
}
