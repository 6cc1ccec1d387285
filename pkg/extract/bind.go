package extract

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType = reflect.TypeFor[time.Duration]()
	timeType     = reflect.TypeFor[time.Time]()
)

// lookupFunc returns every value supplied for name.
type lookupFunc func(name string) ([]string, bool)

// bindStruct fills the exported fields of dst from lookup, using tag to name them.
// Fields without the tag fall back to their lowercase field name; "-" skips a field.
// Missing values leave the field at its zero value.
func bindStruct(dst reflect.Value, tag string, lookup lookupFunc) error {
	if dst.Kind() == reflect.Pointer {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}
	typ := dst.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldValue := dst.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		name := strings.Split(field.Tag.Get(tag), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}

		values, ok := lookup(name)
		if !ok || len(values) == 0 {
			continue
		}
		if err := setValues(fieldValue, values); err != nil {
			return &bindError{name: name, err: err}
		}
	}
	return nil
}

type bindError struct {
	name string
	err  error
}

func (e *bindError) Error() string {
	return fmt.Sprintf("%s: %v", e.name, e.err)
}

func (e *bindError) Unwrap() error { return e.err }

// setValues assigns values to a slice field, or the first value to a scalar field.
func setValues(fieldValue reflect.Value, values []string) error {
	if fieldValue.Kind() == reflect.Slice && fieldValue.Type().Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(fieldValue.Type(), len(values), len(values))
		for i, v := range values {
			if err := setFieldValue(out.Index(i), v); err != nil {
				return err
			}
		}
		fieldValue.Set(out)
		return nil
	}
	return setFieldValue(fieldValue, values[0])
}

// setFieldValue sets the value of a field from a string
func setFieldValue(fieldValue reflect.Value, value string) error {
	fieldType := fieldValue.Type()
	if fieldType.Kind() == reflect.Pointer {
		fieldType = fieldType.Elem()
		if fieldValue.IsNil() {
			fieldValue.Set(reflect.New(fieldType))
		}
		fieldValue = fieldValue.Elem()
	}

	switch fieldType.Kind() {
	case reflect.String:
		fieldValue.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if fieldType == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			fieldValue.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, fieldType.Bits())
		if err != nil {
			return err
		}
		fieldValue.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, fieldType.Bits())
		if err != nil {
			return err
		}
		fieldValue.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, fieldType.Bits())
		if err != nil {
			return err
		}
		fieldValue.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		fieldValue.SetBool(b)
	case reflect.Struct:
		if fieldType != timeType {
			return fmt.Errorf("unsupported struct type %v", fieldType)
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				fieldValue.Set(reflect.ValueOf(t))
				return nil
			}
		}
		return fmt.Errorf("unable to parse time %q", value)
	default:
		return fmt.Errorf("unsupported field type %v", fieldType)
	}
	return nil
}

// parseScalar converts a single string into T.
func parseScalar[T any](value string) (T, error) {
	var out T
	if s, ok := any(&out).(*string); ok {
		*s = value
		return out, nil
	}
	if err := setFieldValue(reflect.ValueOf(&out).Elem(), value); err != nil {
		return out, err
	}
	return out, nil
}

func isStruct[T any]() bool {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}
