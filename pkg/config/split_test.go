package config

import (
	"testing"
)

func TestSplitFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{
			name:     "single quotes",
			in:       `field'A' 'fieldB' fie'l\'d'C fieldD 'another field' fieldE`,
			expected: []string{"fieldA", "fieldB", "fiel'dC", "fieldD", "another field", "fieldE"},
		},
		{
			name:     "double quotes",
			in:       `field"A" "fieldB" fie"l'd"C "field\"D" "yet another field"`,
			expected: []string{"fieldA", "fieldB", "fiel'dC", "field\"D", "yet another field"},
		},
		{
			name:     "condition",
			in:       `cond 1 "x > 5 and name == 'main'"`,
			expected: []string{"cond", "1", "x > 5 and name == 'main'"},
		},
		{
			name:     "empty strings",
			in:       ` "" field"A" '' `,
			expected: []string{"", "fieldA", ""},
		},
		{
			name:     "lots of spaces",
			in:       "    fieldA  \t ",
			expected: []string{"fieldA"},
		},
		{
			name:     "nothing",
			in:       "   ",
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := SplitFields(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if len(tt.expected) != len(out) {
				t.Fatalf("expected %#v, got %#v (len mismatch)", tt.expected, out)
			}
			for i := range tt.expected {
				if tt.expected[i] != out[i] {
					t.Fatalf("expected %#v, got %#v (mismatch at %d)", tt.expected, out, i)
				}
			}
		})
	}
}

func TestSplitFieldsUnterminated(t *testing.T) {
	for _, in := range []string{`cond 1 "x > 5`, `a 'b\`} {
		if out, err := SplitFields(in); err == nil {
			t.Errorf("%q: expected an error, got %#v", in, out)
		}
	}
}
