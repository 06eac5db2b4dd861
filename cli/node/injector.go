package node

import (
	"reflect"

	"golang.org/x/xerrors"
)

// reflectInjector resolves the dependencies by comparing their types. The last
// injected dependency wins when several of them are compatible.
//
// - implements node.Injector
type reflectInjector struct {
	deps []interface{}
}

// NewInjector returns an empty injector.
func NewInjector() Injector {
	return &reflectInjector{}
}

// Resolve implements node.Injector. It populates the pointer with the latest
// compatible dependency.
func (inj *reflectInjector) Resolve(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return xerrors.New("expect a pointer")
	}

	if rv.IsNil() {
		return xerrors.Errorf("reflect value '%v' is invalid", rv)
	}

	target := rv.Elem().Type()

	for i := len(inj.deps) - 1; i >= 0; i-- {
		dep := inj.deps[i]

		if reflect.TypeOf(dep).AssignableTo(target) {
			rv.Elem().Set(reflect.ValueOf(dep))
			return nil
		}
	}

	return xerrors.Errorf("couldn't find dependency for '%v'", target)
}

// Inject implements node.Injector. A nil dependency is ignored.
func (inj *reflectInjector) Inject(v interface{}) {
	if v == nil {
		return
	}

	inj.deps = append(inj.deps, v)
}
