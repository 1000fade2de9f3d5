package injection

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Engine struct{ power int }

func NewEngine(power int) *Engine { return &Engine{power: power} }

type Shaft struct{ diameter int }

type Gearbox struct{ shaft *Shaft }

func NewGearbox(shaft *Shaft) *Gearbox { return &Gearbox{shaft: shaft} }

type Dashboard struct {
	left   string
	right  string
	gauges []int
}

func NewDashboard(left, right string, gauges ...int) *Dashboard {
	return &Dashboard{left: left, right: right, gauges: gauges}
}

type Greeting struct{ names []string }

func NewGreeting(names ...string) *Greeting { return &Greeting{names: names} }

type Clock struct{ ticks int }

func NewClock() *Clock { return &Clock{} }

type Lazy struct{ supply func() int }

func NewLazy(supply func() int) *Lazy { return &Lazy{supply: supply} }

// failingFallback fails the test if the resolver ever consults it.
type failingFallback struct{ t *testing.T }

func (f failingFallback) CreateOrReuse(*ConstructorResolver, *TestedParameter, string) (any, bool, error) {
	f.t.Fatal("fallback provider must not be consulted")
	return nil, false, nil
}

func TestNewResolver(t *testing.T) {
	pool := NewPool()
	{
		_, err := NewResolver(pool, "not a function")
		require.ErrorIs(t, err, ErrInvalidConstructor)
	}
	{
		_, err := NewResolver(pool, func() {})
		require.ErrorIs(t, err, ErrInvalidConstructor)
	}
	{
		_, err := NewResolver(pool, func() error { return nil })
		require.ErrorIs(t, err, ErrInvalidConstructor)
	}
	{
		_, err := NewResolver(pool, func() (*Engine, string) { return nil, "" })
		require.ErrorIs(t, err, ErrInvalidConstructor)
	}
	{
		_, err := NewResolver(pool, func() (*Engine, *Clock, error) { return nil, nil, nil })
		require.ErrorIs(t, err, ErrInvalidConstructor)
	}
	{
		r, err := NewResolver(pool, NewEngine)
		require.NoError(t, err)
		require.NotNil(t, r)
	}
	{
		r, err := NewResolver(pool, func() (*Engine, error) { return &Engine{}, nil })
		require.NoError(t, err)
		require.NotNil(t, r)
	}
}

func TestInstantiateZeroParameters(t *testing.T) {
	r, err := NewResolver(NewPool(), NewClock)
	require.NoError(t, err)

	v, err := r.Instantiate()
	require.NoError(t, err)
	require.IsType(t, &Clock{}, v)
}

func TestInstantiateDirect(t *testing.T) {
	pool := NewPool()
	power := pool.Register("power", 42)

	r, err := NewResolver(pool, NewEngine)
	require.NoError(t, err)

	v, err := r.Instantiate(power)
	require.NoError(t, err)
	require.Equal(t, 42, v.(*Engine).power)
}

func TestInstantiateMissingInjectable(t *testing.T) {
	pool := NewPool()
	r, err := NewResolver(pool, NewEngine)
	require.NoError(t, err)

	_, err = r.Instantiate(&Injectable{name: "power", typ: reflect.TypeOf(0)})
	require.ErrorIs(t, err, ErrMissingInjectable)
	require.ErrorContains(t, err, `parameter "power" in constructor NewEngine(int)`)
}

func TestInstantiateProviderMismatch(t *testing.T) {
	pool := NewPool()
	r, err := NewResolver(pool, NewEngine)
	require.NoError(t, err)

	_, err = r.Instantiate()
	require.ErrorIs(t, err, ErrProviderMismatch)
}

func TestInstantiateOrdering(t *testing.T) {
	pool := NewPool()
	pool.Register("", "port")
	pool.Register("", "starboard")
	pool.Register("", 10)
	pool.Register("", 20)

	r, err := NewResolver(pool, NewDashboard)
	require.NoError(t, err)

	left := &Injectable{typ: reflect.TypeOf("")}
	right := &Injectable{typ: reflect.TypeOf("")}
	v, err := r.Instantiate(left, right)
	require.NoError(t, err)

	d := v.(*Dashboard)
	// strictly left-to-right: the earlier parameter takes the earlier
	// candidate, the variadic tail collects last
	assert.Equal(t, "port", d.left)
	assert.Equal(t, "starboard", d.right)
	assert.Equal(t, []int{10, 20}, d.gauges)
}

func TestInstantiateVariadic(t *testing.T) {
	t.Run("collects in registration order", func(t *testing.T) {
		pool := NewPool()
		pool.Register("", "a")
		pool.Register("", "b")
		pool.Register("", "c")

		r, err := NewResolver(pool, NewGreeting)
		require.NoError(t, err)

		v, err := r.Instantiate()
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, v.(*Greeting).names)
	})

	t.Run("no matches yields an empty slice", func(t *testing.T) {
		pool := NewPool()
		pool.Register("", 42)

		r, err := NewResolver(pool, NewGreeting)
		require.NoError(t, err)

		v, err := r.Instantiate()
		require.NoError(t, err)
		require.Empty(t, v.(*Greeting).names)
		require.NotNil(t, v.(*Greeting).names)
	})

	t.Run("explicit nil candidates are skipped", func(t *testing.T) {
		pool := NewPool()
		pool.Register("", "a")
		pool.RegisterNil("", reflect.TypeOf(""))
		pool.Register("", "b")

		r, err := NewResolver(pool, NewGreeting)
		require.NoError(t, err)

		v, err := r.Instantiate()
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, v.(*Greeting).names)
	})
}

func TestInstantiateNilSentinel(t *testing.T) {
	pool := NewPool()
	shaft := pool.RegisterNil("shaft", reflect.TypeOf(&Shaft{}))

	r, err := NewResolver(pool, NewGearbox)
	require.NoError(t, err)

	v, err := r.Instantiate(shaft)
	require.NoError(t, err)
	require.Nil(t, v.(*Gearbox).shaft)
}

func TestInstantiatePoolIsolation(t *testing.T) {
	pool := NewPool()
	power := pool.Register("power", 42)

	r, err := NewResolver(pool, NewEngine)
	require.NoError(t, err)

	// two independent calls must both see the candidate
	for i := 0; i < 2; i++ {
		v, err := r.Instantiate(power)
		require.NoError(t, err)
		require.Equal(t, 42, v.(*Engine).power)
	}
}

func TestInstantiateRestoresOnFailure(t *testing.T) {
	pool := NewPool()
	power := pool.Register("power", 42)

	broken, err := NewResolver(pool, func(power int, label string) *Engine { return &Engine{power: power} })
	require.NoError(t, err)

	_, err = broken.Instantiate(power, &Injectable{name: "label", typ: reflect.TypeOf("")})
	require.ErrorIs(t, err, ErrMissingInjectable)

	// consumption from the failed call must not leak
	r, err := NewResolver(pool, NewEngine)
	require.NoError(t, err)
	v, err := r.Instantiate(power)
	require.NoError(t, err)
	require.Equal(t, 42, v.(*Engine).power)
}

func TestInstantiateNestedReuse(t *testing.T) {
	pool := NewPool()
	shaft := &Shaft{diameter: 9}

	r, err := NewResolver(pool, NewGearbox)
	require.NoError(t, err)
	r.WithFallback(failingFallback{t})

	p := NewTestedParameter("shaft", reflect.TypeOf(&Shaft{}), "").WithValue(shaft)
	v, err := r.Instantiate(p)
	require.NoError(t, err)
	require.Same(t, shaft, v.(*Gearbox).shaft)
}

func TestInstantiateNestedWithoutFallback(t *testing.T) {
	pool := NewPool()
	r, err := NewResolver(pool, NewGearbox)
	require.NoError(t, err)

	_, err = r.Instantiate(NewTestedParameter("shaft", reflect.TypeOf(&Shaft{}), ""))
	require.ErrorIs(t, err, ErrNoFallback)
	require.NotErrorIs(t, err, ErrMissingTested)
	require.ErrorContains(t, err, `parameter "shaft" in constructor NewGearbox(*Shaft)`)
}

func TestInstantiateNestedMissing(t *testing.T) {
	pool := NewPool()
	r, err := NewResolver(pool, NewGearbox)
	require.NoError(t, err)
	r.WithFallback(NewFullInjection())

	_, err = r.Instantiate(NewTestedParameter("shaft", reflect.TypeOf(&Shaft{}), ""))
	require.ErrorIs(t, err, ErrMissingTested)
	require.NotErrorIs(t, err, ErrNoFallback)
	require.ErrorContains(t, err, `parameter "shaft" in constructor NewGearbox(*Shaft)`)
	require.ErrorContains(t, err, "full injection")
}

func TestInstantiateSupplierWrapping(t *testing.T) {
	pool := NewPool()
	supply := pool.Register("supply", 42)

	r, err := NewResolver(pool, NewLazy)
	require.NoError(t, err)

	v, err := r.Instantiate(supply)
	require.NoError(t, err)
	require.Equal(t, 42, v.(*Lazy).supply())
}

func TestInstantiateConstructorError(t *testing.T) {
	boom := errors.New("boom")
	pool := NewPool()
	power := pool.Register("power", 42)

	r, err := NewResolver(pool, func(power int) (*Engine, error) { return nil, boom })
	require.NoError(t, err)

	_, err = r.Instantiate(power)
	require.ErrorIs(t, err, boom)
}

func TestInstantiateGuard(t *testing.T) {
	t.Run("suspended during the constructor call only", func(t *testing.T) {
		guard := NewMockingGuard()
		pool := NewPool()
		power := pool.Register("power", 42)

		r, err := NewResolver(pool, func(power int) *Engine {
			require.False(t, guard.Active())
			return &Engine{power: power}
		})
		require.NoError(t, err)
		r.WithGuard(guard)

		require.True(t, guard.Active())
		_, err = r.Instantiate(power)
		require.NoError(t, err)
		require.True(t, guard.Active())
	})

	t.Run("reactivated when the constructor panics", func(t *testing.T) {
		guard := NewMockingGuard()
		pool := NewPool()
		power := pool.Register("power", 42)

		r, err := NewResolver(pool, func(power int) *Engine { panic("kaboom") })
		require.NoError(t, err)
		r.WithGuard(guard)

		require.PanicsWithValue(t, "kaboom", func() { _, _ = r.Instantiate(power) })
		require.True(t, guard.Active())
	})
}

func TestParameterNameFallsBackToProviderLabel(t *testing.T) {
	pool := NewPool()
	r, err := NewResolver(pool, func(level int) *Clock { return &Clock{ticks: level} })
	require.NoError(t, err)

	// anonymous constructors have no recoverable parameter names
	_, err = r.Instantiate(&Injectable{name: "level", typ: reflect.TypeOf(0)})
	require.ErrorIs(t, err, ErrMissingInjectable)
	require.ErrorContains(t, err, `parameter "level"`)
}
