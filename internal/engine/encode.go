package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// EncodeValue renders a host value as engine source syntax, suitable for the
// right-hand side of an assignment. Supported inputs: nil, bool, numbers,
// strings, flat slices, [][]float64 matrices, and string-keyed maps (encoded
// as struct literals with deterministic field order).
func EncodeValue(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "[]", nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case string:
		return encodeString(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return encodeFloat(v)
	case float32:
		return encodeFloat(float64(v))
	case []float64:
		return encodeRow(v), nil
	case []int:
		row := make([]float64, len(v))
		for i, n := range v {
			row[i] = float64(n)
		}
		return encodeRow(row), nil
	case [][]float64:
		return encodeMatrix(v)
	case []string:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = encodeString(s)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case []any:
		parts := make([]string, len(v))
		for i, element := range v {
			encoded, err := EncodeValue(element)
			if err != nil {
				return "", err
			}
			parts[i] = encoded
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case map[string]any:
		return encodeStruct(v)
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func encodeFloat(v float64) (string, error) {
	switch {
	case math.IsNaN(v):
		return "NaN", nil
	case math.IsInf(v, 1):
		return "Inf", nil
	case math.IsInf(v, -1):
		return "-Inf", nil
	default:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
}

// encodeString produces a single-quoted engine string; embedded quotes are
// doubled per MATLAB-family quoting rules.
func encodeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func encodeRow(row []float64) string {
	parts := make([]string, len(row))
	for i, v := range row {
		encoded, _ := encodeFloat(v)
		parts[i] = encoded
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func encodeMatrix(rows [][]float64) (string, error) {
	if len(rows) == 0 {
		return "[]", nil
	}
	width := len(rows[0])
	encoded := make([]string, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return "", fmt.Errorf("matrix row %d has %d columns, want %d", i, len(row), width)
		}
		parts := make([]string, len(row))
		for j, v := range row {
			value, _ := encodeFloat(v)
			parts[j] = value
		}
		encoded[i] = strings.Join(parts, ", ")
	}
	return "[" + strings.Join(encoded, "; ") + "]", nil
}

func encodeStruct(fields map[string]any) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)*2)
	for _, name := range names {
		encoded, err := EncodeValue(fields[name])
		if err != nil {
			return "", fmt.Errorf("encode field %q: %w", name, err)
		}
		// Field values are wrapped in cells so arrays stay scalar struct fields.
		parts = append(parts, encodeString(name), "{"+encoded+"}")
	}
	return "struct(" + strings.Join(parts, ", ") + ")", nil
}
