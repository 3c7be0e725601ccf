package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSON has a single number type. To give details and results back the Go
// numeric types they were created with, a record carries a parallel shape
// tree naming the type of every non-float64 number ("int", "uint8", ...)
// and of every []string. Values without a shape decode as before.

type recordFields Record

type recordWire struct {
	recordFields
	DetailTypes any `json:"detail_types,omitempty"`
	ResultType  any `json:"result_type,omitempty"`
}

// MarshalJSON encodes the record with type shapes for details and result.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordWire{
		recordFields: recordFields(r),
		DetailTypes:  shapeOf(r.Details),
		ResultType:   shapeOf(r.Result),
	})
}

// UnmarshalJSON decodes a record written by MarshalJSON. Numbers without
// a recorded shape become float64.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	rec := Record(w.recordFields)

	if rec.Details != nil {
		shapes, _ := w.DetailTypes.(map[string]any)
		for k, v := range rec.Details {
			restored, err := restore(v, shapes[k])
			if err != nil {
				return fmt.Errorf("task %s: detail %q: %w", rec.ID, k, err)
			}
			rec.Details[k] = restored
		}
	}
	result, err := restore(rec.Result, w.ResultType)
	if err != nil {
		return fmt.Errorf("task %s: result: %w", rec.ID, err)
	}
	rec.Result = result

	*r = rec
	return nil
}

// shapeOf returns nil when v decodes correctly without help.
func shapeOf(v any) any {
	switch x := v.(type) {
	case int:
		return "int"
	case int8:
		return "int8"
	case int16:
		return "int16"
	case int32:
		return "int32"
	case int64:
		return "int64"
	case uint:
		return "uint"
	case uint8:
		return "uint8"
	case uint16:
		return "uint16"
	case uint32:
		return "uint32"
	case uint64:
		return "uint64"
	case float32:
		return "float32"
	case []string:
		return "[]string"
	case map[string]any:
		shapes := make(map[string]any)
		for k, e := range x {
			if s := shapeOf(e); s != nil {
				shapes[k] = s
			}
		}
		if len(shapes) == 0 {
			return nil
		}
		return shapes
	case []any:
		shapes := make([]any, len(x))
		found := false
		for i, e := range x {
			if s := shapeOf(e); s != nil {
				shapes[i] = s
				found = true
			}
		}
		if !found {
			return nil
		}
		return shapes
	}
	return nil
}

func restore(v, shape any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		kind, _ := shape.(string)
		return parseNumber(x, kind)
	case map[string]any:
		shapes, _ := shape.(map[string]any)
		for k, e := range x {
			r, err := restore(e, shapes[k])
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	case []any:
		if shape == "[]string" {
			out := make([]string, len(x))
			for i, e := range x {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("element %d of []string is %T", i, e)
				}
				out[i] = s
			}
			return out, nil
		}
		shapes, _ := shape.([]any)
		for i, e := range x {
			var s any
			if i < len(shapes) {
				s = shapes[i]
			}
			r, err := restore(e, s)
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	}
	return v, nil
}

func parseNumber(n json.Number, kind string) (any, error) {
	s := string(n)
	switch kind {
	case "int":
		v, err := strconv.ParseInt(s, 10, 0)
		return int(v), wrapNumber(n, kind, err)
	case "int8":
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), wrapNumber(n, kind, err)
	case "int16":
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), wrapNumber(n, kind, err)
	case "int32":
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), wrapNumber(n, kind, err)
	case "int64":
		v, err := strconv.ParseInt(s, 10, 64)
		return v, wrapNumber(n, kind, err)
	case "uint":
		v, err := strconv.ParseUint(s, 10, 0)
		return uint(v), wrapNumber(n, kind, err)
	case "uint8":
		v, err := strconv.ParseUint(s, 10, 8)
		return uint8(v), wrapNumber(n, kind, err)
	case "uint16":
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), wrapNumber(n, kind, err)
	case "uint32":
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), wrapNumber(n, kind, err)
	case "uint64":
		v, err := strconv.ParseUint(s, 10, 64)
		return v, wrapNumber(n, kind, err)
	case "float32":
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), wrapNumber(n, kind, err)
	}
	v, err := n.Float64()
	return v, wrapNumber(n, "float64", err)
}

func wrapNumber(n json.Number, kind string, err error) error {
	if err != nil {
		return fmt.Errorf("number %s as %s: %w", n, kind, err)
	}
	return nil
}
