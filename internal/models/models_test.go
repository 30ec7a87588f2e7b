package models

import "testing"

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trims whitespace", input: "  User@Example.com  ", want: "user@example.com"},
		{name: "already normalized", input: "user@example.com", want: "user@example.com"},
		{name: "unicode case fold", input: "ÜSER@example.com", want: "üser@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeEmail(tc.input); got != tc.want {
				t.Fatalf("NormalizeEmail(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
