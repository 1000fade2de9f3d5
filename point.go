package injection

import "reflect"

// InjectionPoint describes one formal constructor parameter. Points are
// built once per inspected constructor and never mutated afterwards.
type InjectionPoint struct {
	Type     reflect.Type
	Index    int
	Variadic bool
}

// pointsOf inspects a constructor function and returns one point per
// declared parameter, the trailing slice parameter included when the
// function is variadic.
func pointsOf(fn reflect.Value) []InjectionPoint {
	t := fn.Type()
	n := t.NumIn()
	points := make([]InjectionPoint, n)
	for i := 0; i < n; i++ {
		points[i] = InjectionPoint{
			Type:     t.In(i),
			Index:    i,
			Variadic: t.IsVariadic() && i == n-1,
		}
	}
	return points
}

// Provider supplies the value for one injection point. Exactly two
// variants exist: a registered Injectable resolved directly against the
// pool, and a TestedParameter resolved by reuse or recursive
// construction. The variant is decided when providers are built, never
// re-derived during resolution.
type Provider interface {
	Name() string
	Type() reflect.Type

	providerVariant()
}

// Injectable is a candidate value registered in a Pool: the direct
// provider variant.
type Injectable struct {
	name        string
	typ         reflect.Type
	value       any
	explicitNil bool
}

func (i *Injectable) Name() string       { return i.name }
func (i *Injectable) Type() reflect.Type { return i.typ }

func (i *Injectable) providerVariant() {}

// TestedParameter is the nested provider variant: a parameter whose value
// is itself a to-be-constructed tested object, carrying the declared type
// and qualifier used for recursive resolution.
type TestedParameter struct {
	name      string
	typ       reflect.Type
	qualifier string
	value     any
}

func NewTestedParameter(name string, typ reflect.Type, qualifier string) *TestedParameter {
	return &TestedParameter{name: name, typ: typ, qualifier: qualifier}
}

// WithValue attaches an already-known value. A parameter carrying a value
// is reused as-is and the fallback provider is never consulted for it.
func (tp *TestedParameter) WithValue(value any) *TestedParameter {
	tp.value = value
	return tp
}

func (tp *TestedParameter) Name() string       { return tp.name }
func (tp *TestedParameter) Type() reflect.Type { return tp.typ }
func (tp *TestedParameter) Qualifier() string  { return tp.qualifier }
func (tp *TestedParameter) Value() any         { return tp.value }

func (tp *TestedParameter) providerVariant() {}

// isSupplierType reports whether typ is a niladic single-result function
// type, the indirection a caller declares as "supplier of T" rather
// than "T".
func isSupplierType(typ reflect.Type) bool {
	return typ.Kind() == reflect.Func && typ.NumIn() == 0 && typ.NumOut() == 1 && !typ.IsVariadic()
}

// argumentValue adapts a resolved value to the declared parameter type:
// nil becomes the type's zero value, supplier-typed parameters receive the
// value wrapped in a closure, and convertible values are converted. The
// adaptation is pure; it never touches pool state.
func argumentValue(typ reflect.Type, value any) reflect.Value {
	if value == nil {
		return reflect.Zero(typ)
	}
	rv := reflect.ValueOf(value)
	if isSupplierType(typ) && !rv.Type().AssignableTo(typ) {
		return wrapInSupplier(typ, rv)
	}
	if !rv.Type().AssignableTo(typ) && rv.Type().ConvertibleTo(typ) {
		return rv.Convert(typ)
	}
	return rv
}

func wrapInSupplier(typ reflect.Type, rv reflect.Value) reflect.Value {
	out := typ.Out(0)
	if !rv.Type().AssignableTo(out) && rv.Type().ConvertibleTo(out) {
		rv = rv.Convert(out)
	}
	supplied := rv
	return reflect.MakeFunc(typ, func([]reflect.Value) []reflect.Value {
		return []reflect.Value{supplied}
	})
}
