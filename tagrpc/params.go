// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Method parameters are declared as Go structs with `tagrpc` tags:
//
//	`tagrpc:"wire_name[,default=VALUE]"`
//
// Supported field types are string (including Handle), int64/int, int32,
// float64, bool, []byte, and slices of those scalars. Pointer fields become
// nullable columns. The instrument API needs nothing richer; anything else
// is rejected at bind time.

type tagInfo struct {
	Name    string
	Default *string // nil if no default
}

func parseTag(tag string) tagInfo {
	parts := strings.Split(tag, ",")
	info := tagInfo{Name: parts[0]}
	for _, part := range parts[1:] {
		if v, ok := strings.CutPrefix(part, "default="); ok {
			info.Default = &v
		}
	}
	return info
}

// goTypeToArrowType maps a Go parameter field type to an Arrow DataType.
func goTypeToArrowType(t reflect.Type) (arrow.DataType, bool, error) {
	nullable := false
	if t.Kind() == reflect.Ptr {
		nullable = true
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return arrow.BinaryTypes.String, nullable, nil
	case reflect.Int64, reflect.Int:
		return arrow.PrimitiveTypes.Int64, nullable, nil
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, nullable, nil
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, nullable, nil
	case reflect.Bool:
		return &arrow.BooleanType{}, nullable, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return arrow.BinaryTypes.Binary, nullable, nil
		}
		elemType, _, err := goTypeToArrowType(t.Elem())
		if err != nil {
			return nil, false, fmt.Errorf("list element: %w", err)
		}
		return arrow.ListOf(elemType), nullable, nil
	default:
		return nil, false, fmt.Errorf("unsupported parameter type: %v (kind %v)", t, t.Kind())
	}
}

// paramsSchema builds an Arrow schema from a parameter struct type.
func paramsSchema(t reflect.Type) (*arrow.Schema, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct type, got %v", t.Kind())
	}
	var fields []arrow.Field
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("tagrpc")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)
		arrowType, nullable, err := goTypeToArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, arrow.Field{Name: info.Name, Type: arrowType, Nullable: nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

// paramDefaults extracts default values declared in struct tags.
func paramDefaults(t reflect.Type) map[string]string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	defaults := make(map[string]string)
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("tagrpc")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)
		if info.Default != nil {
			defaults[info.Name] = *info.Default
		}
	}
	if len(defaults) == 0 {
		return nil
	}
	return defaults
}

// decodeParams reads row 0 of a request batch into a parameter struct value.
// Missing or null columns fall back to the tag default when one is declared.
func decodeParams(batch arrow.RecordBatch, target reflect.Type) (reflect.Value, error) {
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	result := reflect.New(target).Elem()

	for i := range target.NumField() {
		f := target.Field(i)
		tag := f.Tag.Get("tagrpc")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)

		colIdx := -1
		for ci := range batch.NumCols() {
			if batch.ColumnName(int(ci)) == info.Name {
				colIdx = int(ci)
				break
			}
		}
		if colIdx == -1 || batch.Column(colIdx).IsNull(0) {
			if info.Default != nil {
				if err := setFieldFromString(result.Field(i), f.Type, *info.Default); err != nil {
					return reflect.Value{}, fmt.Errorf("default for %s: %w", info.Name, err)
				}
			}
			continue
		}

		if err := setFieldFromArrow(result.Field(i), f.Type, batch.Column(colIdx), 0); err != nil {
			return reflect.Value{}, fmt.Errorf("field %s: %w", info.Name, err)
		}
	}
	return result, nil
}

// setFieldFromArrow assigns a struct field from an Arrow array at row idx.
func setFieldFromArrow(field reflect.Value, fieldType reflect.Type, col arrow.Array, idx int) error {
	isPtr := fieldType.Kind() == reflect.Ptr
	if isPtr {
		fieldType = fieldType.Elem()
		ptr := reflect.New(fieldType)
		if err := setFieldFromArrow(ptr.Elem(), fieldType, col, idx); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch c := col.(type) {
	case *array.String:
		field.SetString(c.Value(idx))
	case *array.Int64:
		field.SetInt(c.Value(idx))
	case *array.Int32:
		field.SetInt(int64(c.Value(idx)))
	case *array.Float64:
		field.SetFloat(c.Value(idx))
	case *array.Boolean:
		field.SetBool(c.Value(idx))
	case *array.Binary:
		field.SetBytes(c.Value(idx))
	case *array.List:
		start, end := c.ValueOffsets(idx)
		values := c.ListValues()
		length := int(end - start)
		slice := reflect.MakeSlice(fieldType, length, length)
		for j := 0; j < length; j++ {
			if err := setFieldFromArrow(slice.Index(j), fieldType.Elem(), values, int(start)+j); err != nil {
				return fmt.Errorf("list element [%d]: %w", j, err)
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported Arrow array type: %T", col)
	}
	return nil
}

// setFieldFromString assigns a struct field from a string default.
func setFieldFromString(field reflect.Value, fieldType reflect.Type, s string) error {
	if fieldType.Kind() == reflect.Ptr {
		fieldType = fieldType.Elem()
		ptr := reflect.New(fieldType)
		if err := setFieldFromString(ptr.Elem(), fieldType, s); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}
	switch fieldType.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int64, reflect.Int, reflect.Int32:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing int default %q: %w", s, err)
		}
		field.SetInt(v)
	case reflect.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parsing float default %q: %w", s, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parsing bool default %q: %w", s, err)
		}
		field.SetBool(v)
	default:
		return fmt.Errorf("default not supported for %v", fieldType.Kind())
	}
	return nil
}
