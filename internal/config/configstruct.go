package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Decode fills the exported fields of the struct pointed to by to from
// simple, matching field names via a `config:"name"` tag or, absent
// one, the field's snake_case name — the same convention as the
// teacher's configstruct.Items, narrowed to Decode instead of
// enumerate since the dispatcher only ever reads seed settings, never
// lists them back out to a UI.
func Decode(simple Simple, to any) error {
	rv := reflect.ValueOf(to)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("config: Decode: argument must be a pointer")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("config: Decode: argument must be a pointer to a struct")
	}
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		name := field.Tag.Get("config")
		if name == "" {
			name = toSnakeCase(field.Name)
		}
		raw, ok := simple.Get(name)
		if !ok {
			continue
		}
		if err := setField(rv.Field(i), raw); err != nil {
			return fmt.Errorf("config: field %s: %w", field.Name, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := parseInt64(raw)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := parseUint64(raw)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

// toSnakeCase converts "PotatoPie" to "potato_pie", matching
// configstruct's default naming.
func toSnakeCase(s string) string {
	var out strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			out.WriteByte('_')
		}
		out.WriteRune(r)
	}
	return strings.ToLower(out.String())
}
