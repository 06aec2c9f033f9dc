package registry

import (
	"fmt"
	"reflect"

	"snakeplane/internal/executor"
	"snakeplane/internal/settings"
)

// Mode says whether a module must expose an attribute.
type Mode int

const (
	Required Mode = iota
	Optional
)

// Kind says whether an attribute is a value or a constructor of values.
type Kind int

const (
	// Instance attributes must be values of the capability type.
	Instance Kind = iota
	// Type attributes must be constructors whose first result is of the
	// capability type.
	Type
)

// AttributeType describes one attribute a plugin module exposes.
type AttributeType struct {
	Capability reflect.Type
	Mode       Mode
	Kind       Kind
}

// Attribute names every executor plugin module is checked against.
const (
	AttrCommonSettings   = "common_settings"
	AttrExecutorSettings = "ExecutorSettings"
	AttrExecutor         = "Executor"
)

var (
	backendType = reflect.TypeOf((*executor.Backend)(nil)).Elem()
	hostType    = reflect.TypeOf((*executor.Host)(nil)).Elem()
	recordType  = reflect.TypeOf((*settings.Record)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ExpectedAttributes is the capability schema of executor plugin modules.
func ExpectedAttributes() map[string]AttributeType {
	return map[string]AttributeType{
		AttrCommonSettings: {
			Capability: reflect.TypeOf((*settings.CommonSettings)(nil)),
			Mode:       Required,
			Kind:       Instance,
		},
		AttrExecutorSettings: {
			Capability: reflect.TypeOf((*settings.Schema)(nil)),
			Mode:       Optional,
			Kind:       Instance,
		},
		AttrExecutor: {
			Capability: backendType,
			Mode:       Required,
			Kind:       Type,
		},
	}
}

// check returns a description of why value does not fit the attribute
// type, or "" if it does.
func (a AttributeType) check(value any) string {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return "is nil"
	}
	t := v.Type()

	switch a.Kind {
	case Instance:
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && v.IsNil() {
			return "is nil"
		}
		if !fits(t, a.Capability) {
			return fmt.Sprintf("is of type %s, expected %s", t, a.Capability)
		}
	case Type:
		if t.Kind() != reflect.Func {
			return fmt.Sprintf("is of type %s, expected a constructor of %s", t, a.Capability)
		}
		if v.IsNil() {
			return "is nil"
		}
		if t.NumOut() == 0 || !fits(t.Out(0), a.Capability) {
			return fmt.Sprintf("constructor %s does not return %s", t, a.Capability)
		}
	}
	return ""
}

func fits(t, capability reflect.Type) bool {
	if capability.Kind() == reflect.Interface {
		return t.Implements(capability)
	}
	return t.AssignableTo(capability)
}

// factoryFrom turns an Executor constructor into an executor.Factory. The
// constructor must take (executor.Host, *settings.Record) and return a
// Backend implementation and an error.
func factoryFrom(value any) (executor.Factory, error) {
	switch f := value.(type) {
	case executor.Factory:
		return f, nil
	case func(executor.Host, *settings.Record) (executor.Backend, error):
		return f, nil
	}

	fv := reflect.ValueOf(value)
	ft := fv.Type()
	if ft.NumIn() != 2 || ft.In(0) != hostType || ft.In(1) != recordType ||
		ft.NumOut() != 2 || ft.Out(1) != errorType || !ft.Out(0).Implements(backendType) {
		return nil, fmt.Errorf("constructor %s must have the signature func(executor.Host, *settings.Record) (executor.Backend, error)", ft)
	}

	return func(host executor.Host, record *settings.Record) (executor.Backend, error) {
		out := fv.Call([]reflect.Value{reflect.ValueOf(&host).Elem(), reflect.ValueOf(record)})
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		backend, _ := out[0].Interface().(executor.Backend)
		return backend, nil
	}, nil
}
