package dbus

import (
	"reflect"

	godbus "github.com/godbus/dbus/v5"

	"github.com/slok/taskvisor/internal/bus"
)

var (
	variantType    = reflect.TypeOf(godbus.Variant{})
	dbusErrorType  = reflect.TypeOf(&godbus.Error{})
	busPathType    = reflect.TypeOf(bus.ObjectPath(""))
	dbusPathType   = reflect.TypeOf(godbus.ObjectPath(""))
	anyMapType     = reflect.TypeOf(map[string]any{})
	variantMapType = reflect.TypeOf(map[string]godbus.Variant{})
)

// wireType returns the type used on the wire for a bus method type.
func wireType(t reflect.Type) reflect.Type {
	switch {
	case t == busPathType:
		return dbusPathType
	case t == anyMapType:
		return variantMapType
	case t.Kind() == reflect.Interface:
		return variantType
	case t.Kind() == reflect.Slice && t.Elem() == busPathType:
		return reflect.SliceOf(dbusPathType)
	}
	return t
}

// wrapMethod adapts a bus method to the signature required by godbus, the
// last result is replaced by a godbus error.
func wrapMethod(fn any) any {
	v := reflect.ValueOf(fn)
	t := v.Type()

	in := make([]reflect.Type, t.NumIn())
	for i := range in {
		in[i] = wireType(t.In(i))
	}
	out := make([]reflect.Type, t.NumOut())
	for i := 0; i < t.NumOut()-1; i++ {
		out[i] = wireType(t.Out(i))
	}
	out[len(out)-1] = dbusErrorType

	ft := reflect.FuncOf(in, out, false)
	return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		callArgs := make([]reflect.Value, len(args))
		for i, a := range args {
			cv, err := fromWireValue(a.Interface(), t.In(i))
			if err != nil {
				return errorResults(out, &bus.Error{Name: bus.ErrNameInvalidArgs, Message: err.Error()})
			}
			callArgs[i] = cv
		}

		res := v.Call(callArgs)
		if errV := res[len(res)-1]; !errV.IsNil() {
			return errorResults(out, errV.Interface().(error))
		}

		ret := make([]reflect.Value, len(out))
		for i := 0; i < len(res)-1; i++ {
			ret[i] = reflect.ValueOf(toWire(res[i].Interface()))
			if out[i] == variantType {
				ret[i] = reflect.ValueOf(makeVariant(res[i].Interface()))
			}
			if !ret[i].IsValid() {
				ret[i] = reflect.Zero(out[i])
			}
		}
		ret[len(ret)-1] = reflect.Zero(dbusErrorType)
		return ret
	}).Interface()
}

func errorResults(out []reflect.Type, err error) []reflect.Value {
	ret := make([]reflect.Value, len(out))
	for i := 0; i < len(out)-1; i++ {
		ret[i] = reflect.Zero(out[i])
	}
	ret[len(ret)-1] = reflect.ValueOf(fromBusError(err))
	return ret
}

func fromWireValue(v any, t reflect.Type) (reflect.Value, error) {
	dst := reflect.New(t)
	if err := bus.StoreValues([]any{fromWire(v)}, dst.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return dst.Elem(), nil
}

// makeVariant wraps a value in a variant, nil values are sent as empty strings
// because the wire has no null value.
func makeVariant(v any) godbus.Variant {
	if v == nil {
		return godbus.MakeVariant("")
	}
	return godbus.MakeVariant(toWire(v))
}

// toWire converts the bus values into the godbus types.
func toWire(v any) any {
	switch vv := v.(type) {
	case bus.ObjectPath:
		return godbus.ObjectPath(vv)
	case []bus.ObjectPath:
		out := make([]godbus.ObjectPath, 0, len(vv))
		for _, p := range vv {
			out = append(out, godbus.ObjectPath(p))
		}
		return out
	case map[string]any:
		out := make(map[string]godbus.Variant, len(vv))
		for k, e := range vv {
			out[k] = makeVariant(e)
		}
		return out
	}
	return v
}

// fromWire converts the godbus values into plain Go values.
func fromWire(v any) any {
	switch vv := v.(type) {
	case godbus.Variant:
		return fromWire(vv.Value())
	case godbus.ObjectPath:
		return bus.ObjectPath(vv)
	case []godbus.ObjectPath:
		out := make([]bus.ObjectPath, 0, len(vv))
		for _, p := range vv {
			out = append(out, bus.ObjectPath(p))
		}
		return out
	case map[string]godbus.Variant:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = fromWire(e)
		}
		return out
	case []any:
		out := make([]any, 0, len(vv))
		for _, e := range vv {
			out = append(out, fromWire(e))
		}
		return out
	}
	return v
}

type body []any

func newBody(values []any) body {
	b := make(body, 0, len(values))
	for _, v := range values {
		b = append(b, fromWire(v))
	}
	return b
}

func (b body) Values() []any { return b }

func (b body) Store(dst ...any) error { return bus.StoreValues(b, dst...) }
