package injection

import "github.com/pkg/errors"

// Instantiate resolves and invokes the resolver's constructor, asserting
// the result to T.
func Instantiate[T any](r *ConstructorResolver, providers ...Provider) (T, error) {
	var t T
	value, err := r.Instantiate(providers...)
	if err != nil {
		return t, err
	}
	t, ok := value.(T)
	if !ok {
		return t, errors.Errorf("constructor %s produced %T", r.description(), value)
	}
	return t, nil
}

// MustInstantiate resolves and invokes the resolver's constructor,
// panicking on failure.
func MustInstantiate[T any](r *ConstructorResolver, providers ...Provider) T {
	t, err := Instantiate[T](r, providers...)
	if err != nil {
		panic(err)
	}
	return t
}
