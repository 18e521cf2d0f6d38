package notes

import "strings"

// Node is one heading in the parsed hierarchy. Line indexes the
// heading's position in the source document.
type Node struct {
	Title    string
	Level    int
	Parent   *Node
	Children []*Node
	Line     int
}

// Tree is the rooted forest of headings for one document snapshot.
type Tree struct {
	Roots []*Node
	doc   *Document
}

// ParseTree reconstructs the heading hierarchy from a document. It
// tolerates arbitrary manual edits: skipped levels attach to the
// nearest shallower heading, and body lines are ignored entirely.
func ParseTree(doc *Document) *Tree {
	t := &Tree{doc: doc}
	var stack []*Node

	for i, line := range doc.Lines {
		if line.Heading <= 0 {
			continue
		}
		node := &Node{
			Title: strings.TrimSpace(headingTitle(line)),
			Level: line.Heading,
			Line:  i,
		}

		for len(stack) > 0 && stack[len(stack)-1].Level >= node.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			t.Roots = append(t.Roots, node)
		} else {
			parent := stack[len(stack)-1]
			node.Parent = parent
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}
	return t
}

// ParseTreeMarkdown parses raw markdown and builds its heading tree in
// one step.
func ParseTreeMarkdown(md string) *Tree {
	return ParseTree(parseMarkdown([]byte(md)))
}

func headingTitle(line Line) string {
	text := line.Text
	for strings.HasPrefix(text, "#") {
		text = text[1:]
	}
	return text
}

// Resolve walks a heading path from a root. Titles compare
// case-insensitively with collapsed whitespace, matching how external
// editors tend to perturb headings.
func (t *Tree) Resolve(path []string) *Node {
	if len(path) == 0 {
		return nil
	}
	nodes := t.Roots
	var found *Node
	for _, title := range path {
		found = nil
		for _, n := range nodes {
			if titlesEqual(n.Title, title) {
				found = n
				break
			}
		}
		if found == nil {
			return nil
		}
		nodes = found.Children
	}
	return found
}

// Paths lists every heading path in document order, giving the
// classification step full visibility of the current structure.
func (t *Tree) Paths() [][]string {
	var out [][]string
	var walk func(n *Node, prefix []string)
	walk = func(n *Node, prefix []string) {
		path := append(append([]string{}, prefix...), n.Title)
		out = append(out, path)
		for _, c := range n.Children {
			walk(c, path)
		}
	}
	for _, r := range t.Roots {
		walk(r, nil)
	}
	return out
}

// subtreeEnd returns the line index just past the node's entire
// subtree: the next heading at the same or a shallower level, or the
// end of the document.
func (t *Tree) subtreeEnd(n *Node) int {
	for i := n.Line + 1; i < len(t.doc.Lines); i++ {
		h := t.doc.Lines[i].Heading
		if h > 0 && h <= n.Level {
			return i
		}
	}
	return len(t.doc.Lines)
}

// directContentEnd returns the line index just past the node's own
// content, before its first child heading.
func (t *Tree) directContentEnd(n *Node) int {
	if len(n.Children) > 0 {
		return n.Children[0].Line
	}
	return t.subtreeEnd(n)
}

func titlesEqual(a, b string) bool {
	return normalizeTitle(a) == normalizeTitle(b)
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
