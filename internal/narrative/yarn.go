package narrative

import (
	"fmt"
	"strconv"
	"strings"
)

// Render serializes the tree to the canonical branching-narrative text
// format. Each node becomes a block:
//
//	title: <id>
//	---
//	<speaker> (<emotion>): <text>
//	-> <label> | <next_node> [<effects>]
//	===
//
// Output is deterministic: nodes appear in authoring order, choices in
// declaration order, and all whitespace is fixed.
func Render(t *Tree) string {
	var b strings.Builder
	for i, n := range t.Nodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("title: " + n.ID + "\n")
		b.WriteString("---\n")
		if n.Content.Text != "" {
			if n.Content.Emotion != "" {
				fmt.Fprintf(&b, "%s (%s): %s\n", n.Content.Speaker, n.Content.Emotion, n.Content.Text)
			} else {
				fmt.Fprintf(&b, "%s: %s\n", n.Content.Speaker, n.Content.Text)
			}
		}
		for _, c := range n.Choices {
			b.WriteString("-> " + c.Label + " | " + c.NextNode)
			if fx := renderEffects(c); fx != "" {
				b.WriteString(" [" + fx + "]")
			}
			b.WriteByte('\n')
		}
		b.WriteString("===\n")
	}
	return b.String()
}

func renderEffects(c Choice) string {
	var parts []string
	if c.TrustDelta != 0 {
		parts = append(parts, fmt.Sprintf("trust%+d", c.TrustDelta))
	}
	for _, f := range c.FlagsSet {
		parts = append(parts, "set:"+f)
	}
	for _, f := range c.FlagsUnset {
		parts = append(parts, "unset:"+f)
	}
	return strings.Join(parts, " ")
}

// Parse reads the canonical format back into a tree. The parser is
// line-oriented and tolerant of trailing whitespace and blank lines between
// blocks; anything else is an error naming the offending line.
func Parse(src string) (*Tree, error) {
	t := &Tree{}
	var cur *Node
	inBody := false

	for lineno, raw := range strings.Split(src, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		switch {
		case line == "" && cur == nil:
			continue

		case strings.HasPrefix(line, "title:"):
			if cur != nil {
				return nil, fmt.Errorf("narrative: line %d: node %q not terminated", lineno+1, cur.ID)
			}
			id := strings.TrimSpace(strings.TrimPrefix(line, "title:"))
			if id == "" {
				return nil, fmt.Errorf("narrative: line %d: empty node id", lineno+1)
			}
			cur = &Node{ID: id}
			inBody = false

		case line == "---":
			if cur == nil {
				return nil, fmt.Errorf("narrative: line %d: delimiter outside node", lineno+1)
			}
			inBody = true

		case line == "===":
			if cur == nil {
				return nil, fmt.Errorf("narrative: line %d: terminator outside node", lineno+1)
			}
			t.Nodes = append(t.Nodes, *cur)
			cur = nil

		case strings.HasPrefix(line, "->"):
			if cur == nil || !inBody {
				return nil, fmt.Errorf("narrative: line %d: choice outside node body", lineno+1)
			}
			c, err := parseChoice(strings.TrimPrefix(line, "->"))
			if err != nil {
				return nil, fmt.Errorf("narrative: line %d: %w", lineno+1, err)
			}
			cur.Choices = append(cur.Choices, c)

		default:
			if cur == nil || !inBody {
				return nil, fmt.Errorf("narrative: line %d: unexpected text %q", lineno+1, line)
			}
			if line == "" {
				continue
			}
			speaker, emotion, text := parseBodyLine(line)
			if cur.Content.Text == "" {
				cur.Content = Content{Speaker: speaker, Emotion: emotion, Text: text}
			} else {
				cur.Content.Text += "\n" + text
			}
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("narrative: node %q not terminated", cur.ID)
	}
	return t, nil
}

// parseChoice decodes "<label> | <next_node> [<effects>]".
func parseChoice(s string) (Choice, error) {
	label, rest, found := strings.Cut(s, "|")
	if !found {
		return Choice{}, fmt.Errorf("choice missing '|' separator")
	}
	c := Choice{Label: strings.TrimSpace(label)}

	rest = strings.TrimSpace(rest)
	if i := strings.Index(rest, "["); i >= 0 {
		fx := strings.TrimSuffix(strings.TrimSpace(rest[i+1:]), "]")
		c.NextNode = strings.TrimSpace(rest[:i])
		if err := parseEffects(&c, fx); err != nil {
			return Choice{}, err
		}
	} else {
		c.NextNode = rest
	}
	if c.NextNode == "" {
		return Choice{}, fmt.Errorf("choice missing target node")
	}
	return c, nil
}

func parseEffects(c *Choice, fx string) error {
	for _, part := range strings.Fields(fx) {
		switch {
		case strings.HasPrefix(part, "trust"):
			n, err := strconv.Atoi(strings.TrimPrefix(part, "trust"))
			if err != nil {
				return fmt.Errorf("bad trust effect %q", part)
			}
			c.TrustDelta = n
		case strings.HasPrefix(part, "set:"):
			c.FlagsSet = append(c.FlagsSet, strings.TrimPrefix(part, "set:"))
		case strings.HasPrefix(part, "unset:"):
			c.FlagsUnset = append(c.FlagsUnset, strings.TrimPrefix(part, "unset:"))
		default:
			return fmt.Errorf("unknown effect %q", part)
		}
	}
	return nil
}

// parseBodyLine splits "Speaker (emotion): text". Lines without a speaker
// prefix are treated as bare continuation text.
func parseBodyLine(line string) (speaker, emotion, text string) {
	head, rest, found := strings.Cut(line, ":")
	if !found {
		return "", "", strings.TrimSpace(line)
	}
	head = strings.TrimSpace(head)
	if i := strings.Index(head, "("); i >= 0 && strings.HasSuffix(head, ")") {
		emotion = strings.TrimSpace(head[i+1 : len(head)-1])
		head = strings.TrimSpace(head[:i])
	}
	return head, emotion, strings.TrimSpace(rest)
}
