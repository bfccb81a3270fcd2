// Package deffile translates Dockerfile-style instruction sequences into the
// target runtime's definition-file format. Translation is deterministic and
// order-preserving within each section; directives the format cannot express
// fail explicitly instead of being dropped.
package deffile

import (
	"fmt"
	"strings"
)

// =============================================================================
// Definition Model
// =============================================================================

// Section names a definition-file section.
type Section string

const (
	SectionFiles       Section = "files"
	SectionPost        Section = "post"
	SectionEnvironment Section = "environment"
	SectionRunscript   Section = "runscript"
	SectionStartscript Section = "startscript"
	SectionTest        Section = "test"
)

// sectionOrder fixes the rendering sequence so output is byte-stable.
var sectionOrder = []Section{
	SectionFiles,
	SectionPost,
	SectionEnvironment,
	SectionRunscript,
	SectionStartscript,
	SectionTest,
}

// Instruction is one translated definition-file line, tagged with the
// section it belongs to. Instructions render in append order within their
// section.
type Instruction struct {
	Section Section
	Line    string
}

// Definition is a complete translated build recipe.
type Definition struct {
	Bootstrap    string // bootstrap agent, "docker" for registry images
	From         string
	Instructions []Instruction
	// Warnings records directives that were ignored or rewritten with
	// reduced fidelity.
	Warnings []string
}

// add appends a line to a section.
func (d *Definition) add(section Section, line string) {
	d.Instructions = append(d.Instructions, Instruction{Section: section, Line: line})
}

// warn records a translation warning.
func (d *Definition) warn(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Lines returns the lines of one section in order.
func (d *Definition) Lines(section Section) []string {
	var lines []string
	for _, in := range d.Instructions {
		if in.Section == section {
			lines = append(lines, in.Line)
		}
	}
	return lines
}

// Render emits the definition file. Output is deterministic: the header
// first, then each non-empty section in fixed order, lines in translation
// order. Rendering the same definition twice yields identical bytes.
func (d *Definition) Render() []byte {
	var b strings.Builder

	b.WriteString("Bootstrap: ")
	b.WriteString(d.Bootstrap)
	b.WriteString("\nFrom: ")
	b.WriteString(d.From)
	b.WriteString("\n")

	for _, section := range sectionOrder {
		lines := d.Lines(section)
		if len(lines) == 0 {
			continue
		}
		b.WriteString("\n%")
		b.WriteString(string(section))
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return []byte(b.String())
}
