package postprocess

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "просто текст", "просто текст"},
		{"prefix echo", "Translation: 你好世界", "你好世界"},
		{"prefix echo variant", "Here's the translation: bonjour", "bonjour"},
		{"thinking block", "<think>let me see</think>\n结果文本", "结果文本"},
		{"truncated thinking", "结果文本 <thinking>and then the model", "结果文本"},
		{"double quotes", `"quoted output"`, "quoted output"},
		{"cjk quotes", "“引用的输出”", "引用的输出"},
		{"mismatched quotes stay", `"half quoted`, `"half quoted`},
		{"internal quotes stay", `he said "hi" there`, `he said "hi" there`},
		{"whitespace", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClean_PrefixOnlyAtStart(t *testing.T) {
	in := "The term translation: meaning transfer"
	if got := Clean(in); got != in {
		t.Errorf("mid-text phrase must survive, got %q", got)
	}
}
