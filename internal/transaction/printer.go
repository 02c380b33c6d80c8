package transaction

import (
	"fmt"
	"strings"
)

// Printer collects aligned key/value diagnostics for logs and dumps.
//
//	p := NewPrinter("Restore failed")
//	tx.Describe(p)
//	slog.Error("restore failed", "details", p.String())
type Printer struct {
	title  string
	lines  []printerLine
	indent int
}

type printerLine struct {
	indent int
	key    string
	value  string
	header bool
}

// NewPrinter creates a printer with a title line.
func NewPrinter(title string) *Printer {
	return &Printer{title: title}
}

// Add appends a key/value line at the current indent.
func (p *Printer) Add(key string, value any) *Printer {
	p.lines = append(p.lines, printerLine{indent: p.indent, key: key, value: fmt.Sprint(value)})
	return p
}

// Section starts an indented block under a heading. Call End to leave it.
func (p *Printer) Section(heading string) *Printer {
	p.lines = append(p.lines, printerLine{indent: p.indent, key: heading, header: true})
	p.indent++
	return p
}

// End leaves the innermost section.
func (p *Printer) End() *Printer {
	if p.indent > 0 {
		p.indent--
	}
	return p
}

// String renders the collected lines.
func (p *Printer) String() string {
	width := 0
	for _, l := range p.lines {
		if !l.header && len(l.key) > width {
			width = len(l.key)
		}
	}

	var b strings.Builder
	if p.title != "" {
		fmt.Fprintf(&b, "=== %s ===\n", p.title)
	}
	for _, l := range p.lines {
		pad := strings.Repeat("  ", l.indent+1)
		if l.header {
			fmt.Fprintf(&b, "%s%s:\n", pad, l.key)
			continue
		}
		fmt.Fprintf(&b, "%s%-*s : %s\n", pad, width, l.key, l.value)
	}
	return b.String()
}
