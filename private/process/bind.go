// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Bind registers a flag for every field of the struct pointed to by config
// that has a help tag. Nested structs are prefixed with their hyphenated
// name, so Pool.MaxConns becomes pool.max-conns. The default tag is applied
// to the field immediately.
//
// Fields without a help tag that are not structs are skipped; they can only
// be set from the configuration file.
func Bind(cmd *cobra.Command, config interface{}) {
	BindFlags(cmd.Flags(), config)
}

// BindFlags is Bind for a flag set.
func BindFlags(flags *pflag.FlagSet, config interface{}) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic("process: Bind requires a pointer to a struct")
	}
	bindStruct(flags, "", ptr.Elem())
}

func bindStruct(flags *pflag.FlagSet, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fv := v.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			bindStruct(flags, prefix, fv)
			continue
		}

		name := prefix + Hyphenate(field.Name)
		help, ok := field.Tag.Lookup("help")
		if !ok {
			if field.Type.Kind() == reflect.Struct {
				bindStruct(flags, name+".", fv)
			}
			continue
		}

		value := &fieldValue{v: fv}
		if def, ok := field.Tag.Lookup("default"); ok {
			if err := value.Set(def); err != nil {
				panic("process: invalid default for " + name + ": " + err.Error())
			}
		}
		flag := flags.VarPF(value, name, "", help)
		if fv.Kind() == reflect.Bool {
			flag.NoOptDefVal = "true"
		}
		if field.Tag.Get("hidden") == "true" {
			flag.Hidden = true
		}
	}
}

// Hyphenate converts a Go identifier into a flag name: MaxConns becomes
// max-conns and SSLMode becomes ssl-mode.
func Hyphenate(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fieldValue is a pflag.Value writing into a struct field.
type fieldValue struct {
	v reflect.Value
}

func (value *fieldValue) String() string {
	if !value.v.IsValid() {
		return ""
	}
	if value.v.Type() == durationType {
		return time.Duration(value.v.Int()).String()
	}
	switch value.v.Kind() {
	case reflect.String:
		return value.v.String()
	case reflect.Bool:
		return strconv.FormatBool(value.v.Bool())
	case reflect.Int, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(value.v.Int(), 10)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(value.v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(value.v.Float(), 'g', -1, 64)
	}
	return ""
}

func (value *fieldValue) Set(s string) error {
	if value.v.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Error.Wrap(err)
		}
		value.v.SetInt(int64(d))
		return nil
	}
	switch value.v.Kind() {
	case reflect.String:
		value.v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Error.Wrap(err)
		}
		value.v.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, value.v.Type().Bits())
		if err != nil {
			return Error.Wrap(err)
		}
		value.v.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, value.v.Type().Bits())
		if err != nil {
			return Error.Wrap(err)
		}
		value.v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, value.v.Type().Bits())
		if err != nil {
			return Error.Wrap(err)
		}
		value.v.SetFloat(f)
	default:
		return Error.New("unsupported flag type %s", value.v.Type())
	}
	return nil
}

func (value *fieldValue) Type() string {
	if value.v.Type() == durationType {
		return "duration"
	}
	return value.v.Kind().String()
}
