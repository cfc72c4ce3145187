package chronofsm

import (
	"fmt"
	"strings"
)

// DOTOptions configures RenderDOT, mirroring the teacher's
// visualization.DOTOptions but narrowed to the flat state/transition model
// this engine actually has.
type DOTOptions struct {
	RankDirection string // "TB", "LR", "BT", "RL"
	NodeShape     string
	ShowPriority  bool
	ShowGroup     bool
}

// DefaultDOTOptions returns sensible defaults for DOT generation.
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{RankDirection: "TB", NodeShape: "box", ShowPriority: true, ShowGroup: true}
}

// RenderDOT renders m's current topology as a Graphviz DOT digraph. It is a
// read-only consumer of Machine.States and each State's transitions and never
// touches live evaluation state.
func RenderDOT(m *Machine, opts DOTOptions) string {
	var b strings.Builder
	b.WriteString("digraph StateMachine {\n")
	fmt.Fprintf(&b, "  rankdir=%s;\n", orDefault(opts.RankDirection, "TB"))
	fmt.Fprintf(&b, "  node [shape=%s];\n", orDefault(opts.NodeShape, "box"))
	b.WriteString("  edge [fontsize=10];\n\n")

	current := m.CurrentState()
	for _, name := range m.States() {
		style := ""
		if current != nil && current.Name == name {
			style = " style=filled fillcolor=lightgrey"
		}
		fmt.Fprintf(&b, "  %q [%s];\n", name, strings.TrimSpace(style))
	}
	b.WriteString("\n")

	for _, name := range m.States() {
		s := m.GetState(name)
		for _, t := range s.transitions {
			label := renderEdgeLabel(t, opts)
			if label != "" {
				fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", name, t.Target, label)
			} else {
				fmt.Fprintf(&b, "  %q -> %q;\n", name, t.Target)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// RenderMermaid renders m's current topology as a Mermaid `stateDiagram-v2`
// definition.
func RenderMermaid(m *Machine) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")

	current := m.CurrentState()
	if current == nil {
		if len(m.States()) > 0 {
			fmt.Fprintf(&b, "    [*] --> %s\n", m.States()[0])
		}
	} else {
		fmt.Fprintf(&b, "    [*] --> %s\n", current.Name)
	}

	for _, name := range m.States() {
		s := m.GetState(name)
		for _, t := range s.transitions {
			label := renderEdgeLabel(t, DefaultDOTOptions())
			if label != "" {
				fmt.Fprintf(&b, "    %s --> %s : %s\n", name, t.Target, label)
			} else {
				fmt.Fprintf(&b, "    %s --> %s\n", name, t.Target)
			}
		}
	}
	return b.String()
}

func renderEdgeLabel(t AutoTransition, opts DOTOptions) string {
	var parts []string
	if opts.ShowPriority && t.Priority != 0 {
		parts = append(parts, fmt.Sprintf("priority=%d", t.Priority))
	}
	if opts.ShowGroup && t.Group != "" {
		parts = append(parts, fmt.Sprintf("group=%s", t.Group))
	}
	if t.DebounceMs > 0 {
		parts = append(parts, fmt.Sprintf("debounce=%dms", t.DebounceMs))
	}
	return strings.Join(parts, ", ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
