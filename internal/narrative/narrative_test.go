package narrative_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hollowvale/dreadhex/internal/narrative"
)

func lampTree() *narrative.Tree {
	return &narrative.Tree{Nodes: []narrative.Node{
		{
			ID:      "greeting",
			Content: narrative.Content{Speaker: "Ivo", Emotion: "wary", Text: "You shouldn't be out past the lamps."},
			Choices: []narrative.Choice{
				{Label: "Ask about the lamps", NextNode: "lamps", TrustDelta: 1},
				{Label: "Push past him", NextNode: "refusal", TrustDelta: -2, FlagsSet: []string{"ivo_slighted"}},
			},
		},
		{
			ID:      "lamps",
			Content: narrative.Content{Speaker: "Ivo", Text: "They keep the fen-lights from following you home."},
		},
		{
			ID:      "refusal",
			Content: narrative.Content{Speaker: "Ivo", Emotion: "cold", Text: "Then the dark is your business."},
		},
	}}
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	tree := lampTree()
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if root := tree.Root(); root == nil || root.ID != "greeting" {
		t.Errorf("root = %v", root)
	}
}

func TestValidateStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*narrative.Tree)
		want error
	}{
		{
			name: "empty tree",
			mod:  func(tr *narrative.Tree) { tr.Nodes = nil },
			want: narrative.ErrNoRoot,
		},
		{
			name: "duplicate id",
			mod: func(tr *narrative.Tree) {
				tr.Nodes = append(tr.Nodes, narrative.Node{ID: "lamps"})
			},
			want: narrative.ErrDuplicateNode,
		},
		{
			name: "unknown target",
			mod: func(tr *narrative.Tree) {
				tr.Nodes[0].Choices[0].NextNode = "missing"
			},
			want: narrative.ErrUnknownNode,
		},
		{
			name: "second root",
			mod: func(tr *narrative.Tree) {
				tr.Nodes = append(tr.Nodes, narrative.Node{
					ID:      "stray",
					Content: narrative.Content{Speaker: "?", Text: "..."},
				})
			},
			want: narrative.ErrMultipleRoots,
		},
		{
			name: "cycle",
			mod: func(tr *narrative.Tree) {
				tr.Nodes[1].Choices = []narrative.Choice{{Label: "Ask again", NextNode: "greeting"}}
			},
			want: narrative.ErrCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := lampTree()
			tt.mod(tree)
			if err := tree.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateRejectsFullCycle(t *testing.T) {
	// Two nodes pointing at each other: no root at all.
	tree := &narrative.Tree{Nodes: []narrative.Node{
		{ID: "a", Choices: []narrative.Choice{{Label: "to b", NextNode: "b"}}},
		{ID: "b", Choices: []narrative.Choice{{Label: "to a", NextNode: "a"}}},
	}}
	if err := tree.Validate(); !errors.Is(err, narrative.ErrCycle) {
		t.Errorf("Validate = %v, want ErrCycle", err)
	}
}

func TestValidateRejectsUnreachableCycle(t *testing.T) {
	// The cyclic pair has inbound edges, so the root is still the only
	// inbound-zero node; reachability is what must reject this tree.
	tree := &narrative.Tree{Nodes: []narrative.Node{
		{ID: "root", Content: narrative.Content{Speaker: "Ivo", Text: "Goodnight."}},
		{ID: "b", Choices: []narrative.Choice{{Label: "to c", NextNode: "c"}}},
		{ID: "c", Choices: []narrative.Choice{{Label: "to b", NextNode: "b"}}},
	}}
	if err := tree.Validate(); !errors.Is(err, narrative.ErrUnreachable) {
		t.Errorf("Validate = %v, want ErrUnreachable", err)
	}
}

func TestRenderFormat(t *testing.T) {
	got := narrative.Render(lampTree())
	want := `title: greeting
---
Ivo (wary): You shouldn't be out past the lamps.
-> Ask about the lamps | lamps [trust+1]
-> Push past him | refusal [trust-2 set:ivo_slighted]
===

title: lamps
---
Ivo: They keep the fen-lights from following you home.
===

title: refusal
---
Ivo (cold): Then the dark is your business.
===
`
	if got != want {
		t.Errorf("Render mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := lampTree()
	parsed, err := narrative.Parse(narrative.Render(orig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(orig, parsed) {
		t.Errorf("round trip mismatch:\norig:   %+v\nparsed: %+v", orig, parsed)
	}
}

func TestParseToleratesTrailingWhitespace(t *testing.T) {
	src := "title: only  \t\n---   \nIvo: Hm.  \n===  \n"
	tree, err := narrative.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tree.Nodes) != 1 || tree.Nodes[0].Content.Text != "Hm." {
		t.Errorf("parsed = %+v", tree.Nodes)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated node", "title: a\n---\nIvo: hello\n"},
		{"choice outside body", "title: a\n-> x | b\n---\n===\n"},
		{"missing separator", "title: a\n---\n-> just a label\n===\n"},
		{"text outside node", "stray text\n"},
		{"empty id", "title:\n---\n===\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := narrative.Parse(tt.src); err == nil {
				t.Error("Parse accepted malformed input")
			}
		})
	}
}
