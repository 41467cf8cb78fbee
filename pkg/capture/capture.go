// Package capture holds the call stack and variables snapshotted at a stop.
package capture

import (
	"fmt"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/aivorynet/scriptdbg/pkg/program"
)

const (
	maxStringLength   = 1000
	maxCollectionSize = 100
)

// StackFrame is a single frame of the debuggee's call stack.
type StackFrame struct {
	Node         program.Node `json:"node"`
	FilePath     string       `json:"file_path,omitempty"`
	LineNumber   int          `json:"line_number,omitempty"`
	FunctionName string       `json:"function_name,omitempty"`
	Display      string       `json:"display"`
}

func (f StackFrame) String() string {
	if f.Display != "" {
		return f.Display
	}
	return fmt.Sprintf("%s at %s:%d", f.FunctionName, f.FilePath, f.LineNumber)
}

// Variable is a variable visible at the stopped location.
type Variable struct {
	Name          string              `json:"name"`
	Type          string              `json:"type"`
	Value         string              `json:"value"`
	IsNull        bool                `json:"is_null"`
	IsTruncated   bool                `json:"is_truncated"`
	Children      map[string]Variable `json:"children,omitempty"`
	ArrayElements []Variable          `json:"array_elements,omitempty"`
	ArrayLength   *int                `json:"array_length,omitempty"`
}

// FromValue captures an arbitrary value, typically one decoded from the
// wire, as a Variable tree no deeper than maxDepth.
func FromValue(name string, value interface{}, maxDepth int) Variable {
	return captureValue(name, value, 0, maxDepth)
}

func captureValue(name string, value interface{}, depth, maxDepth int) Variable {
	if value == nil {
		return Variable{
			Name:   name,
			Type:   "null",
			Value:  "null",
			IsNull: true,
		}
	}

	if depth > maxDepth {
		return Variable{
			Name:        name,
			Type:        reflect.TypeOf(value).String(),
			Value:       "<max depth exceeded>",
			IsTruncated: true,
		}
	}

	v := reflect.ValueOf(value)
	t := v.Type()

	switch v.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Variable{
			Name:  name,
			Type:  t.String(),
			Value: fmt.Sprintf("%v", value),
		}

	case reflect.String:
		s := v.String()
		truncated := len(s) > maxStringLength
		if truncated {
			cut := maxStringLength
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut]
		}
		return Variable{
			Name:        name,
			Type:        "string",
			Value:       s,
			IsTruncated: truncated,
		}

	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return Variable{
				Name:   name,
				Type:   t.String(),
				Value:  "null",
				IsNull: true,
			}
		}
		return captureValue(name, v.Elem().Interface(), depth, maxDepth)

	case reflect.Slice, reflect.Array:
		length := v.Len()
		n := length
		if n > maxCollectionSize {
			n = maxCollectionSize
		}
		elements := make([]Variable, 0, n)
		for i := 0; i < n; i++ {
			elements = append(elements, captureValue(fmt.Sprintf("[%d]", i), v.Index(i).Interface(), depth+1, maxDepth))
		}
		return Variable{
			Name:          name,
			Type:          t.String(),
			Value:         fmt.Sprintf("[%d items]", length),
			ArrayElements: elements,
			ArrayLength:   &length,
			IsTruncated:   length > maxCollectionSize,
		}

	case reflect.Map:
		keys := v.MapKeys()
		// map iteration order is random; sort so truncation is stable
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		n := len(keys)
		if n > maxCollectionSize {
			n = maxCollectionSize
		}
		children := make(map[string]Variable, n)
		for _, key := range keys[:n] {
			keyStr := fmt.Sprintf("%v", key.Interface())
			children[keyStr] = captureValue(keyStr, v.MapIndex(key).Interface(), depth+1, maxDepth)
		}
		return Variable{
			Name:        name,
			Type:        t.String(),
			Value:       fmt.Sprintf("map[%d]", len(keys)),
			Children:    children,
			IsTruncated: len(keys) > maxCollectionSize,
		}

	case reflect.Struct:
		children := make(map[string]Variable)
		for i := 0; i < t.NumField() && i < maxCollectionSize; i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			children[field.Name] = captureValue(field.Name, v.Field(i).Interface(), depth+1, maxDepth)
		}
		return Variable{
			Name:     name,
			Type:     t.String(),
			Value:    fmt.Sprintf("<%s>", t.Name()),
			Children: children,
		}

	default:
		return Variable{
			Name:  name,
			Type:  t.String(),
			Value: fmt.Sprintf("<%s>", t.Kind()),
		}
	}
}
