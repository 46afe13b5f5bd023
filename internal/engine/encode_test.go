package engine

import "testing"

func TestEncodeValue(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "[]"},
		{"bool true", true, "true"},
		{"int", 42, "42"},
		{"float", 3.5, "3.5"},
		{"string", "hello", "'hello'"},
		{"string with quote", "it's", "'it''s'"},
		{"row vector", []float64{1, 2, 3}, "[1, 2, 3]"},
		{"int row", []int{4, 5}, "[4, 5]"},
		{"matrix", [][]float64{{1, 2}, {3, 4}}, "[1, 2; 3, 4]"},
		{"empty matrix", [][]float64{}, "[]"},
		{"cell of strings", []string{"a", "b"}, "{'a', 'b'}"},
		{"mixed cell", []any{1, "x"}, "{1, 'x'}"},
		{
			"struct fields sorted",
			map[string]any{"b": 2, "a": []float64{1, 2}},
			"struct('a', {[1, 2]}, 'b', {2})",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeValue(tc.value)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("EncodeValue(%v) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestEncodeValueRejectsRaggedMatrix(t *testing.T) {
	if _, err := EncodeValue([][]float64{{1, 2}, {3}}); err == nil {
		t.Fatal("expected error for ragged matrix")
	}
}

func TestEncodeValueRejectsUnsupportedType(t *testing.T) {
	if _, err := EncodeValue(struct{}{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
