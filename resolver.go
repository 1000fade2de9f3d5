package injection

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

var typeError = reflect.TypeOf((*error)(nil)).Elem()

// FallbackProvider fabricates or reuses an instance for a nested parameter
// when the parameter carries no pre-known value. ok reports whether a value
// was produced, so a legitimate nil value stays distinguishable from
// "nothing found"; a non-nil error aborts resolution with the underlying
// cause instead of a missing-value diagnostic.
type FallbackProvider interface {
	CreateOrReuse(r *ConstructorResolver, p *TestedParameter, qualifier string) (value any, ok bool, err error)
}

// Guard brackets the real constructor call so that mocking instrumentation
// is inactive while the constructor body runs. Suspend returns the resume
// function; callers defer it so reactivation covers panicking constructors.
type Guard interface {
	Suspend() (resume func())
}

// ConstructorResolver resolves the arguments of one constructor and
// invokes it. The constructor is a function returning the constructed
// value, optionally with a trailing error result.
type ConstructorResolver struct {
	pool     *Pool
	fallback FallbackProvider
	guard    Guard
	ctor     reflect.Value
	points   []InjectionPoint
	variadic bool

	// construction path of the enclosing fallback recursion, used for
	// cycle diagnostics.
	path []instanceKey

	namesOnce sync.Once
	names     []string
}

// NewResolver binds a resolver to a pool and a constructor function.
func NewResolver(pool *Pool, ctor any) (*ConstructorResolver, error) {
	rv := reflect.ValueOf(ctor)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, errors.Wrap(ErrInvalidConstructor, "not a function")
	}
	t := rv.Type()
	switch t.NumOut() {
	case 1:
		if t.Out(0) == typeError {
			return nil, errors.Wrap(ErrInvalidConstructor, "sole result is an error")
		}
	case 2:
		if t.Out(1) != typeError {
			return nil, errors.Wrap(ErrInvalidConstructor, "second result must be an error")
		}
	default:
		return nil, errors.Wrapf(ErrInvalidConstructor, "%d results", t.NumOut())
	}
	return &ConstructorResolver{
		pool:     pool,
		ctor:     rv,
		points:   pointsOf(rv),
		variadic: t.IsVariadic(),
	}, nil
}

// WithFallback wires the fallback instance provider consulted for nested
// parameters without a pre-known value.
func (r *ConstructorResolver) WithFallback(fallback FallbackProvider) *ConstructorResolver {
	r.fallback = fallback
	return r
}

// WithGuard wires the instrumentation guard suspended around the real
// constructor call.
func (r *ConstructorResolver) WithGuard(guard Guard) *ConstructorResolver {
	r.guard = guard
	return r
}

// Instantiate resolves one provider per non-variadic parameter, in
// declared order, collects remaining matching candidates into the
// trailing variadic parameter if there is one, and invokes the
// constructor. Candidate consumption is checkpointed on entry and
// restored on every exit path, so the caller's own resolution never
// observes consumption that happened here.
func (r *ConstructorResolver) Instantiate(providers ...Provider) (any, error) {
	n := len(r.points)
	fixed := n
	if r.variadic {
		fixed--
	}
	if len(providers) != fixed {
		return nil, errors.Wrapf(ErrProviderMismatch, "got %d providers for %d parameters of %s",
			len(providers), fixed, r.description())
	}

	args := make([]reflect.Value, n)
	if n > 0 {
		cp := r.pool.saveConsumed()
		defer r.pool.restoreConsumed(cp)
	}

	for i := 0; i < fixed; i++ {
		point := r.points[i]
		var value any
		var err error
		switch p := providers[i].(type) {
		case *TestedParameter:
			value, err = r.createOrReuseArgumentValue(p, point)
		default:
			value, err = r.argumentValueToInject(providers[i], point)
		}
		if err != nil {
			return nil, err
		}
		args[i] = argumentValue(point.Type, value)
	}

	if r.variadic {
		args[n-1] = r.injectedVariadicValues(r.points[n-1])
	}

	return r.invokeConstructor(args)
}

// createOrReuseArgumentValue resolves a nested parameter: reuse the
// pre-known value when present, otherwise delegate to the fallback
// provider under the parameter's declared type and qualifier.
func (r *ConstructorResolver) createOrReuseArgumentValue(p *TestedParameter, point InjectionPoint) (any, error) {
	if value := p.Value(); value != nil {
		return value, nil
	}

	r.pool.setTypeOfInjectionPoint(p.Type())

	if r.fallback == nil {
		return nil, errors.Wrapf(ErrNoFallback, "parameter %q in constructor %s",
			r.parameterName(point, p), r.description())
	}

	value, ok, err := r.fallback.CreateOrReuse(r, p, p.Qualifier())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrMissingTested, "parameter %q in constructor %s, when initializing through %v",
			r.parameterName(point, p), r.description(), r.fallback)
	}
	return value, nil
}

// argumentValueToInject resolves a direct parameter against the pool.
// A candidate registered as intentionally nil resolves to a nil argument;
// absence is a hard failure.
func (r *ConstructorResolver) argumentValueToInject(p Provider, point InjectionPoint) (any, error) {
	inj, _ := p.(*Injectable)
	if inj == nil {
		inj = &Injectable{name: p.Name(), typ: p.Type()}
	}
	lk := r.pool.valueFor(inj)
	switch lk.state {
	case lookupAbsent:
		return nil, errors.Wrapf(ErrMissingInjectable, "parameter %q in constructor %s",
			r.parameterName(point, p), r.description())
	case lookupNil:
		return nil, nil
	default:
		return lk.value, nil
	}
}

// injectedVariadicValues collects every remaining candidate assignable to
// the variadic element type, in registration order, into a slice of exact
// length. No matches yields an empty slice, never a failure.
func (r *ConstructorResolver) injectedVariadicValues(point InjectionPoint) reflect.Value {
	elem := point.Type.Elem()
	r.pool.setTypeOfInjectionPoint(elem)

	values := reflect.MakeSlice(point.Type, 0, 0)
	for {
		cand := r.pool.findNextForInjectionPoint()
		if cand == nil {
			return values
		}
		lk := r.pool.valueFor(cand)
		if lk.state != lookupValue {
			continue
		}
		values = reflect.Append(values, argumentValue(elem, lk.value))
	}
}

// invokeConstructor calls the real constructor with instrumentation
// suspended for exactly the duration of the call.
func (r *ConstructorResolver) invokeConstructor(args []reflect.Value) (any, error) {
	if r.guard != nil {
		resume := r.guard.Suspend()
		defer resume()
	}

	var outs []reflect.Value
	if r.variadic {
		outs = r.ctor.CallSlice(args)
	} else {
		outs = r.ctor.Call(args)
	}

	if len(outs) == 2 && !outs[1].IsNil() {
		return nil, outs[1].Interface().(error)
	}
	return outs[0].Interface(), nil
}

// parameterName prefers the declared name recovered from source debug
// information, falling back to the provider's own label, then to the
// parameter's type name.
func (r *ConstructorResolver) parameterName(point InjectionPoint, p Provider) string {
	r.namesOnce.Do(func() {
		r.names = parameterNames(r.ctor)
	})
	if point.Index < len(r.names) && r.names[point.Index] != "" {
		return r.names[point.Index]
	}
	if p.Name() != "" {
		return p.Name()
	}
	return shortTypeName(point.Type)
}

func (r *ConstructorResolver) description() string {
	return constructorDescription(r.ctor)
}
