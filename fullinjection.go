package injection

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// instanceKey identifies a fallback-created instance by declared type and
// qualifier.
type instanceKey struct {
	typ       reflect.Type
	qualifier string
}

func (k instanceKey) String() string {
	if k.qualifier == "" {
		return k.typ.String()
	}
	return k.typ.String() + "@" + k.qualifier
}

func pathString(path []instanceKey) string {
	parts := make([]string, len(path))
	for i, k := range path {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}

// FullInjection is the default fallback instance provider: it keeps a
// registry of reusable instances keyed by type and qualifier, and
// constructs missing ones by re-entering the resolver with a registered
// constructor for the type. Instances created here outlive the resolution
// that created them; only pool consumption bookkeeping is rolled back.
//
// A FullInjection may be shared by resolutions running in different
// goroutines over distinct pools; creation of a given key is deduplicated
// so concurrent construction of the same instance happens once.
type FullInjection struct {
	mu        sync.Mutex
	instances map[instanceKey]any
	order     []instanceKey
	ctors     map[reflect.Type]reflect.Value
	ctorOrder []reflect.Type
	sfg       singleflight.Group
}

func NewFullInjection() *FullInjection {
	return &FullInjection{
		instances: map[instanceKey]any{},
		ctors:     map[reflect.Type]reflect.Value{},
	}
}

// ProvideConstructor registers constructors used to fabricate nested
// dependencies, keyed by their constructed type. Constructors follow the
// resolver's shape: a function returning a value and an optional trailing
// error.
func (fi *FullInjection) ProvideConstructor(ctors ...any) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, ctor := range ctors {
		rv := reflect.ValueOf(ctor)
		if !rv.IsValid() || rv.Kind() != reflect.Func || rv.Type().NumOut() == 0 {
			return errors.Wrap(ErrInvalidConstructor, "not a constructor function")
		}
		out := rv.Type().Out(0)
		if out == typeError {
			return errors.Wrap(ErrInvalidConstructor, "sole result is an error")
		}
		if _, ok := fi.ctors[out]; ok {
			return errors.Wrap(ErrTypeAlreadyProvided, out.String())
		}
		fi.ctors[out] = rv
		fi.ctorOrder = append(fi.ctorOrder, out)
	}
	return nil
}

// RegisterInstance seeds the reuse registry with an existing instance
// under the given qualifier.
func (fi *FullInjection) RegisterInstance(qualifier string, value any) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.store(instanceKey{typ: reflect.TypeOf(value), qualifier: qualifier}, value)
}

func (fi *FullInjection) store(key instanceKey, value any) {
	if _, ok := fi.instances[key]; !ok {
		fi.order = append(fi.order, key)
	}
	fi.instances[key] = value
}

// reusable returns an existing instance assignable to the key's type. An
// empty qualifier matches any instance of the type; a non-empty one must
// match exactly. Instances are scanned in creation order.
func (fi *FullInjection) reusable(key instanceKey) (any, bool) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, k := range fi.order {
		if !k.typ.AssignableTo(key.typ) {
			continue
		}
		if key.qualifier != "" && k.qualifier != key.qualifier {
			continue
		}
		return fi.instances[k], true
	}
	return nil, false
}

// constructorFor returns a registered constructor whose constructed type
// is assignable to typ.
func (fi *FullInjection) constructorFor(typ reflect.Type) (reflect.Value, bool) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if ctor, ok := fi.ctors[typ]; ok {
		return ctor, true
	}
	for _, out := range fi.ctorOrder {
		if out.AssignableTo(typ) {
			return fi.ctors[out], true
		}
	}
	return reflect.Value{}, false
}

// CreateOrReuse implements FallbackProvider. An existing compatible
// instance is reused unchanged; otherwise a registered constructor for
// the type is resolved recursively through a nested resolver sharing the
// caller's pool, fallback and guard. Re-entering a key already under
// construction on this resolution path fails with ErrCircularDependency.
func (fi *FullInjection) CreateOrReuse(r *ConstructorResolver, p *TestedParameter, qualifier string) (any, bool, error) {
	key := instanceKey{typ: p.Type(), qualifier: qualifier}

	if value, ok := fi.reusable(key); ok {
		return value, true, nil
	}

	if slices.Contains(r.path, key) {
		return nil, false, errors.Wrapf(ErrCircularDependency, "%s", pathString(append(r.path, key)))
	}

	ctor, ok := fi.constructorFor(p.Type())
	if !ok {
		return nil, false, nil
	}

	value, err, _ := fi.sfg.Do(key.String(), func() (any, error) {
		if value, ok := fi.reusable(key); ok {
			return value, nil
		}
		return fi.construct(r, ctor, key)
	})
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (fi *FullInjection) construct(r *ConstructorResolver, ctor reflect.Value, key instanceKey) (any, error) {
	nested, err := NewResolver(r.pool, ctor.Interface())
	if err != nil {
		return nil, err
	}
	nested.WithFallback(fi).WithGuard(r.guard)
	nested.path = append(slices.Clone(r.path), key)

	value, err := nested.Instantiate(fi.providersFor(r.pool, nested)...)
	if err != nil {
		return nil, err
	}

	fi.mu.Lock()
	fi.store(key, value)
	fi.mu.Unlock()
	return value, nil
}

// providersFor builds one provider per fixed parameter of a nested
// constructor: a pool candidate when an unconsumed one is assignable,
// otherwise a nested tested parameter handed back to this fallback.
func (fi *FullInjection) providersFor(pool *Pool, nested *ConstructorResolver) []Provider {
	fixed := len(nested.points)
	if nested.variadic {
		fixed--
	}
	providers := make([]Provider, 0, fixed)
	for _, point := range nested.points[:fixed] {
		if cand := pool.findInjectable(point.Type, ""); cand != nil {
			providers = append(providers, cand)
			continue
		}
		providers = append(providers, NewTestedParameter(shortTypeName(point.Type), point.Type, ""))
	}
	return providers
}

func (fi *FullInjection) String() string {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fmt.Sprintf("full injection (%d reusable instance(s), %d constructor(s))",
		len(fi.instances), len(fi.ctors))
}
