package htmltext

import (
	"strings"
	"testing"
)

func TestTransform(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "just words",
			want: "just words",
		},
		{
			name: "paragraphs and entities",
			in:   "<p>Fish &amp; chips</p><p>Second   paragraph</p>",
			want: "Fish & chips\n\nSecond paragraph",
		},
		{
			name: "links keep only their text",
			in:   `Read <a href="https://example.com/x">the post</a> now`,
			want: "Read the post now",
		},
		{
			name: "scripts and styles dropped",
			in:   "<style>p{color:red}</style><p>ok</p><script>alert(1)</script>",
			want: "ok",
		},
		{
			name: "line breaks",
			in:   "one<br>two<br/>three",
			want: "one\ntwo\nthree",
		},
		{
			name: "list items",
			in:   "<ul><li>first</li><li>second</li></ul>",
			want: "* first\n\n* second",
		},
		{
			name: "pre kept verbatim",
			in:   "<p>code:</p><pre>a  b\n  c</pre>",
			want: "code:\n\na  b\n  c",
		},
		{
			name: "empty markup",
			in:   "<p> </p><div></div>",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transform(tt.in, DefaultWidth)
			if err != nil {
				t.Fatalf("transform: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTransformWraps(t *testing.T) {
	words := strings.Repeat("word ", 100)
	got, err := Transform("<p>"+words+"</p>", 40)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) < 10 {
		t.Fatalf("expected the paragraph to wrap, got %d lines", len(lines))
	}
	for _, l := range lines {
		if len(l) > 40 {
			t.Errorf("line exceeds width: %q", l)
		}
	}
}

func TestTransformDefaultWidth(t *testing.T) {
	got, _ := Transform(strings.Repeat("abcd ", 80), 0)
	for _, l := range strings.Split(got, "\n") {
		if len(l) > DefaultWidth {
			t.Errorf("line exceeds default width: %d", len(l))
		}
	}
}
