package tools

import "testing"

func TestInterpolate(t *testing.T) {
	vars := map[string]string{"name": "Ana", "phone": "34600111222"}

	tests := []struct {
		in   string
		want string
	}{
		{"hello {{name}}", "hello Ana"},
		{"call @{{phone}} now", "call 34600111222 now"},
		{"{{ name }} with spaces", "Ana with spaces"},
		{"{{missing}} gone", " gone"},
		{"no placeholders", "no placeholders"},
		{"{{name}}/{{phone}}", "Ana/34600111222"},
	}
	for _, tt := range tests {
		if got := Interpolate(tt.in, vars); got != tt.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterpolateMap(t *testing.T) {
	got := InterpolateMap(
		map[string]string{"Authorization": "Bearer {{token}}", "X-Phone": "{{phone}}"},
		map[string]string{"token": "abc", "phone": "123"},
	)
	if got["Authorization"] != "Bearer abc" || got["X-Phone"] != "123" {
		t.Errorf("unexpected interpolated headers: %v", got)
	}
	if InterpolateMap(nil, nil) != nil {
		t.Error("empty input should return nil")
	}
}

func TestMergeVarsParamsWin(t *testing.T) {
	merged := MergeVars(
		map[string]string{"a": "ctx", "b": "ctx"},
		map[string]string{"b": "param"},
	)
	if merged["a"] != "ctx" || merged["b"] != "param" {
		t.Errorf("unexpected merge result: %v", merged)
	}
}
