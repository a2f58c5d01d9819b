package agent

import "testing"

func TestExtractPythonCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "python fence",
			in:   "Here you go:\n```python\nimport unreal\nunreal.log('a')\n```\nDone.",
			want: "import unreal\nunreal.log('a')",
		},
		{
			name: "py fence",
			in:   "```py\nimport unreal\n```",
			want: "import unreal",
		},
		{
			name: "generic fence",
			in:   "```\nimport unreal\nx = 1\n```",
			want: "import unreal\nx = 1",
		},
		{
			name: "raw script",
			in:   "Sure Boss.\nimport unreal\nunreal.log('raw')",
			want: "import unreal\nunreal.log('raw')",
		},
		{
			name: "first python block wins",
			in:   "```python\nimport unreal\nfirst = 1\n```\n```python\nimport unreal\nsecond = 2\n```",
			want: "import unreal\nfirst = 1",
		},
		{
			name: "no code",
			in:   "The village should feel cozy.",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPythonCode(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasPythonBlock(t *testing.T) {
	if !HasPythonBlock("x\n```python\nimport unreal\n```") {
		t.Fatal("expected python block")
	}
	if HasPythonBlock("```js\nfoo()\n```") {
		t.Fatal("js fence is not python")
	}
}
