// Package dockerfile parses Dockerfile-style build instructions into an
// ordered instruction sequence. Parsing is lossless about order and line
// numbers; deciding what each directive means for the target runtime is the
// translator's job, not this package's.
package dockerfile

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// Instruction Model
// =============================================================================

// Directive is an uppercase Dockerfile directive keyword.
type Directive string

const (
	From        Directive = "FROM"
	Run         Directive = "RUN"
	Cmd         Directive = "CMD"
	Entrypoint  Directive = "ENTRYPOINT"
	Env         Directive = "ENV"
	Arg         Directive = "ARG"
	Copy        Directive = "COPY"
	Add         Directive = "ADD"
	Workdir     Directive = "WORKDIR"
	User        Directive = "USER"
	Expose      Directive = "EXPOSE"
	Label       Directive = "LABEL"
	Volume      Directive = "VOLUME"
	Healthcheck Directive = "HEALTHCHECK"
	Stopsignal  Directive = "STOPSIGNAL"
	Shell       Directive = "SHELL"
	Onbuild     Directive = "ONBUILD"
	Maintainer  Directive = "MAINTAINER"
)

// Instruction is one normalized build instruction. Args holds everything
// after the directive keyword with continuations already joined.
type Instruction struct {
	Directive Directive
	Args      string
	Line      int // first line of the instruction in the source
}

// ExecForm decodes JSON-array arguments (["cmd","arg"]). The second return
// is false when the arguments are shell form.
func (in Instruction) ExecForm() ([]string, bool) {
	trimmed := strings.TrimSpace(in.Args)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var words []string
	if err := json.Unmarshal([]byte(trimmed), &words); err != nil {
		return nil, false
	}
	return words, true
}

// =============================================================================
// Parser
// =============================================================================

// Parse reads Dockerfile text into an ordered instruction sequence. Blank
// lines and comments are dropped, continuation lines are joined, and
// directive keywords are uppercased. Unrecognized directives are preserved
// for the translator to reject with context.
func Parse(r io.Reader) ([]Instruction, error) {
	var instructions []Instruction

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		startLine := lineNo
		for strings.HasSuffix(line, "\\") {
			line = strings.TrimSpace(strings.TrimSuffix(line, "\\"))
			joined := false
			// Blank and comment lines inside a continuation are skipped, not
			// terminators.
			for scanner.Scan() {
				lineNo++
				next := strings.TrimSpace(scanner.Text())
				if next == "" || strings.HasPrefix(next, "#") {
					continue
				}
				line += " " + next
				joined = true
				break
			}
			if !joined {
				break
			}
		}

		directive, args := splitDirective(line)
		if directive == "" {
			continue
		}
		instructions = append(instructions, Instruction{
			Directive: Directive(directive),
			Args:      args,
			Line:      startLine,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return instructions, nil
}

// ParseString is a convenience wrapper over Parse.
func ParseString(content string) ([]Instruction, error) {
	return Parse(strings.NewReader(content))
}

func splitDirective(line string) (string, string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", ""
	}
	directive := strings.ToUpper(fields[0])
	args := strings.TrimSpace(line[len(fields[0]):])
	return directive, args
}
