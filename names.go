package injection

import (
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Parameter names are not carried in reflection metadata, so they are
// recovered best-effort from source: the constructor's file is located
// through runtime.FuncForPC and parsed once, and the matching declaration
// yields the declared identifiers. Any failure degrades to no names and
// the caller falls back to the provider's own label.

var paramNameCache = struct {
	sync.Mutex
	files map[string]map[string][]string
}{files: map[string]map[string][]string{}}

// parameterNames returns the declared parameter names of fn, or nil when
// they cannot be recovered.
func parameterNames(fn reflect.Value) []string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return nil
	}
	file, _ := f.FileLine(fn.Pointer())
	return declaredParams(file)[funcShortName(f.Name())]
}

// funcShortName reduces a runtime function name like
// "github.com/acme/pkg.NewFoo[...]" to "NewFoo".
func funcShortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "[...]")
	// methods and closures keep a qualifier; only plain declarations are
	// matched against source.
	if strings.ContainsAny(name, ".()*") {
		return ""
	}
	return name
}

func declaredParams(file string) map[string][]string {
	paramNameCache.Lock()
	defer paramNameCache.Unlock()
	if params, ok := paramNameCache.files[file]; ok {
		return params
	}

	params := map[string][]string{}
	paramNameCache.files[file] = params

	parsed, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.SkipObjectResolution)
	if err != nil {
		return params
	}
	for _, decl := range parsed.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv != nil || fd.Type.Params == nil {
			continue
		}
		var names []string
		for _, field := range fd.Type.Params.List {
			if len(field.Names) == 0 {
				names = append(names, "")
				continue
			}
			for _, ident := range field.Names {
				names = append(names, ident.Name)
			}
		}
		params[fd.Name.Name] = names
	}
	return params
}

// shortTypeName renders a type without package qualifiers, the way a
// diagnostic should read: "*Foo", "[]string", "...Bar".
func shortTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + shortTypeName(t.Elem())
	case reflect.Slice:
		return "[]" + shortTypeName(t.Elem())
	case reflect.Array, reflect.Chan, reflect.Map, reflect.Func:
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}

// typeBaseName is shortTypeName with pointer indirection stripped, used
// when a constructor description falls back to its constructed type.
func typeBaseName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return shortTypeName(t)
}

// constructorDescription renders a human-readable signature such as
// "NewFoo(Bar, *Baz, ...string)". Anonymous constructors are described by
// their constructed type instead of a function name.
func constructorDescription(fn reflect.Value) string {
	t := fn.Type()

	name := ""
	if f := runtime.FuncForPC(fn.Pointer()); f != nil {
		name = funcShortName(f.Name())
	}
	if name == "" || strings.HasPrefix(name, "func") {
		name = typeBaseName(t.Out(0))
	}

	n := t.NumIn()
	params := make([]string, n)
	for i := 0; i < n; i++ {
		if t.IsVariadic() && i == n-1 {
			params[i] = "..." + shortTypeName(t.In(i).Elem())
		} else {
			params[i] = shortTypeName(t.In(i))
		}
	}
	return name + "(" + strings.Join(params, ", ") + ")"
}
