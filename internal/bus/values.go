package bus

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ValidateMethod checks fn can be used as a bus method.
func ValidateMethod(fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("method must be a function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return fmt.Errorf("method can't be variadic")
	}
	if t.NumOut() == 0 || t.Out(t.NumOut()-1) != errorType {
		return fmt.Errorf("the last result of a method must be an error")
	}
	return nil
}

// ValidateInterface checks the interface can be exported.
func ValidateInterface(iface Interface) error {
	if iface.Name == "" {
		return fmt.Errorf("interface name is required")
	}
	for name, m := range iface.Methods {
		if err := ValidateMethod(m); err != nil {
			return fmt.Errorf("method %q: %w", name, err)
		}
	}
	for name, p := range iface.Properties {
		if p == nil {
			return fmt.Errorf("property %q getter is required", name)
		}
	}
	return nil
}

// CallMethod calls a bus method with the values of a message, the arguments are
// converted to the types of the method when they are compatible.
func CallMethod(fn any, args []any) ([]any, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()

	if len(args) != t.NumIn() {
		return nil, &Error{Name: ErrNameInvalidArgs, Message: fmt.Sprintf("expected %d arguments, got %d", t.NumIn(), len(args))}
	}

	in := make([]reflect.Value, 0, len(args))
	for i, arg := range args {
		av, err := convertValue(arg, t.In(i))
		if err != nil {
			return nil, &Error{Name: ErrNameInvalidArgs, Message: fmt.Sprintf("argument %d: %s", i, err)}
		}
		in = append(in, av)
	}

	out := v.Call(in)
	if errV := out[len(out)-1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}

	res := make([]any, 0, len(out)-1)
	for _, o := range out[:len(out)-1] {
		res = append(res, o.Interface())
	}
	return res, nil
}

// StoreValues stores the values in the destination pointers.
func StoreValues(values []any, dst ...any) error {
	if len(values) != len(dst) {
		return fmt.Errorf("expected %d values, got %d", len(dst), len(values))
	}

	for i, d := range dst {
		ptr := reflect.ValueOf(d)
		if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
			return fmt.Errorf("destination %d must be a non nil pointer", i)
		}

		v, err := convertValue(values[i], ptr.Elem().Type())
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		ptr.Elem().Set(v)
	}

	return nil
}

// ValuesBody is a Body of plain Go values.
type ValuesBody []any

func (b ValuesBody) Values() []any { return b }

func (b ValuesBody) Store(dst ...any) error { return StoreValues(b, dst...) }

func convertValue(src any, dstType reflect.Type) (reflect.Value, error) {
	if src == nil {
		switch dstType.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(dstType), nil
		}
		return reflect.Value{}, fmt.Errorf("can't use nil as %s", dstType)
	}

	sv := reflect.ValueOf(src)
	st := sv.Type()
	if st.AssignableTo(dstType) {
		return sv, nil
	}

	switch {
	case st.Kind() == reflect.Slice && dstType.Kind() == reflect.Slice:
		out := reflect.MakeSlice(dstType, sv.Len(), sv.Len())
		for i := 0; i < sv.Len(); i++ {
			ev, err := convertValue(sv.Index(i).Interface(), dstType.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case st.Kind() == reflect.Map && dstType.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(dstType, sv.Len())
		iter := sv.MapRange()
		for iter.Next() {
			kv, err := convertValue(iter.Key().Interface(), dstType.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			vv, err := convertValue(iter.Value().Interface(), dstType.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value of %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(kv, vv)
		}
		return out, nil

	// Structs are received as their fields in order.
	case st.Kind() == reflect.Slice && dstType.Kind() == reflect.Struct:
		if sv.Len() != dstType.NumField() {
			return reflect.Value{}, fmt.Errorf("expected %d struct fields, got %d", dstType.NumField(), sv.Len())
		}
		out := reflect.New(dstType).Elem()
		for i := 0; i < sv.Len(); i++ {
			fv, err := convertValue(sv.Index(i).Interface(), dstType.Field(i).Type)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %s: %w", dstType.Field(i).Name, err)
			}
			out.Field(i).Set(fv)
		}
		return out, nil

	case sameFamily(st.Kind(), dstType.Kind()) && st.ConvertibleTo(dstType):
		return sv.Convert(dstType), nil
	}

	return reflect.Value{}, fmt.Errorf("can't use %s as %s", st, dstType)
}

func sameFamily(a, b reflect.Kind) bool {
	return kindFamily(a) != "" && kindFamily(a) == kindFamily(b)
}

func kindFamily(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Struct:
		return "struct"
	}
	return ""
}
