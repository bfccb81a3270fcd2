package deffile

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/apptainer-compose/apptainer-compose/internal/core/dockerfile"
)

// DefaultBootstrap is the bootstrap agent for registry image references.
const DefaultBootstrap = "docker"

// Options adjusts translation.
type Options struct {
	// BuildArgs override ARG defaults, the way build arguments do for a
	// native Dockerfile build.
	BuildArgs map[string]string
}

// =============================================================================
// Directive Table
// =============================================================================

type translateFunc func(t *translation, in dockerfile.Instruction) error

// directiveTable is the single source of truth mapping build directives to
// their definition-file translation. A directive absent from this table is
// unsupported and fails with a DirectiveError naming the line.
var directiveTable = map[dockerfile.Directive]translateFunc{
	dockerfile.From:        (*translation).translateFrom,
	dockerfile.Run:         (*translation).translateRun,
	dockerfile.Cmd:         (*translation).translateCmd,
	dockerfile.Entrypoint:  (*translation).translateEntrypoint,
	dockerfile.Env:         (*translation).translateEnv,
	dockerfile.Arg:         (*translation).translateArg,
	dockerfile.Copy:        (*translation).translateCopy,
	dockerfile.Add:         (*translation).translateAdd,
	dockerfile.Workdir:     (*translation).translateWorkdir,
	dockerfile.User:        (*translation).translateUser,
	dockerfile.Healthcheck: (*translation).translateHealthcheck,
	dockerfile.Expose:      (*translation).ignoreWithWarning,
	dockerfile.Label:       (*translation).ignoreWithWarning,
	dockerfile.Volume:      (*translation).ignoreWithWarning,
	dockerfile.Stopsignal:  (*translation).ignoreWithWarning,
	dockerfile.Shell:       (*translation).ignoreWithWarning,
	dockerfile.Onbuild:     (*translation).ignoreWithWarning,
	dockerfile.Maintainer:  (*translation).ignoreWithWarning,
}

// Translate converts an ordered build instruction sequence into a
// Definition. The walk is single-pass; CMD, ENTRYPOINT and WORKDIR influence
// the runscript assembled at the end. Directives outside the table and
// multi-stage constructs fail with ErrUnsupportedDirective.
func Translate(instructions []dockerfile.Instruction, opts Options) (*Definition, error) {
	t := &translation{
		def:       &Definition{Bootstrap: DefaultBootstrap},
		args:      make(map[string]string),
		overrides: opts.BuildArgs,
	}

	for _, in := range instructions {
		fn, ok := directiveTable[in.Directive]
		if !ok {
			return nil, NewDirectiveError(string(in.Directive), in.Line, "unrecognized directive")
		}
		if err := fn(t, in); err != nil {
			return nil, err
		}
	}

	if !t.sawFrom {
		return nil, ErrMissingFrom
	}

	t.finish()
	return t.def, nil
}

// =============================================================================
// Translation State
// =============================================================================

type translation struct {
	def       *Definition
	args      map[string]string // declared ARG values after overrides
	overrides map[string]string
	workdir   string
	entry     string // assembled ENTRYPOINT phrase, last wins
	command   string // assembled CMD phrase, last wins
	sawFrom   bool
}

var (
	fromStagePattern = regexp.MustCompile(`(?i)\s+AS\s+\S+`)
	runscriptArgsRef = regexp.MustCompile(`"?\$@"?`)
)

func (t *translation) translateFrom(in dockerfile.Instruction) error {
	fields := strings.Fields(in.Args)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "--") {
		t.def.warn("line %d: FROM flag %s ignored", in.Line, fields[0])
		fields = fields[1:]
	}
	if fromStagePattern.MatchString(in.Args) {
		return NewDirectiveError("FROM", in.Line, "multi-stage builds are not supported")
	}
	if len(fields) == 0 {
		return NewDirectiveError("FROM", in.Line, "missing image reference")
	}

	if t.sawFrom {
		t.def.warn("line %d: multiple FROM directives; the last one wins", in.Line)
	}
	t.def.From = substituteArgs(fields[0], t.args)
	t.sawFrom = true
	return nil
}

func (t *translation) translateRun(in dockerfile.Instruction) error {
	if words, ok := in.ExecForm(); ok {
		t.def.add(SectionPost, shellescape.QuoteCommand(words))
		return nil
	}

	line := in.Args
	// Build-time mount/network flags have no definition-file counterpart.
	for {
		fields := strings.SplitN(line, " ", 2)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "--") {
			break
		}
		t.def.warn("line %d: RUN flag %s ignored", in.Line, fields[0])
		if len(fields) == 1 {
			line = ""
			break
		}
		line = strings.TrimSpace(fields[1])
	}
	if line != "" {
		t.def.add(SectionPost, line)
	}
	return nil
}

func (t *translation) translateCmd(in dockerfile.Instruction) error {
	t.command = commandPhrase(in)
	return nil
}

func (t *translation) translateEntrypoint(in dockerfile.Instruction) error {
	t.entry = commandPhrase(in)
	return nil
}

func (t *translation) translateEnv(in dockerfile.Instruction) error {
	for _, pair := range parseEnvPairs(in.Args) {
		// Exported in %post so later RUN lines see the value, and in
		// %environment so the running container does.
		t.def.add(SectionPost, "export "+pair)
		t.def.add(SectionEnvironment, "export "+pair)
	}
	return nil
}

func (t *translation) translateArg(in dockerfile.Instruction) error {
	for _, token := range tokenizeQuoted(in.Args) {
		name, value, hasDefault := strings.Cut(token, "=")
		name = strings.TrimSpace(name)

		if override, ok := t.overrides[name]; ok {
			value = override
		} else if !hasDefault {
			t.def.warn("line %d: ARG %s has no default and no build argument; skipped", in.Line, name)
			continue
		}

		t.args[name] = value
		t.def.add(SectionPost, fmt.Sprintf("export %s=%s", name, value))
	}
	return nil
}

func (t *translation) translateCopy(in dockerfile.Instruction) error {
	fields, err := t.fileFields(in)
	if err != nil {
		return err
	}
	if len(fields) < 2 {
		return NewDirectiveError("COPY", in.Line, "expects at least a source and a destination")
	}

	dest := fields[len(fields)-1]
	for _, src := range fields[:len(fields)-1] {
		t.def.add(SectionFiles, src+" "+dest)
	}
	return nil
}

func (t *translation) translateAdd(in dockerfile.Instruction) error {
	fields, err := t.fileFields(in)
	if err != nil {
		return err
	}
	if len(fields) < 2 {
		return NewDirectiveError("ADD", in.Line, "expects at least a source and a destination")
	}

	dest := fields[len(fields)-1]
	for _, src := range fields[:len(fields)-1] {
		switch {
		case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
			t.def.add(SectionPost, fmt.Sprintf("curl %s -o %s", src, downloadPath(src, dest)))
		case archivePattern.MatchString(src):
			dir := strings.TrimSuffix(dest, "/")
			t.def.add(SectionFiles, src+" "+dest)
			t.def.add(SectionPost, fmt.Sprintf("tar -xf %s/%s -C %s", dir, path.Base(src), dir))
		default:
			t.def.add(SectionFiles, src+" "+dest)
		}
	}
	return nil
}

func (t *translation) translateWorkdir(in dockerfile.Instruction) error {
	dir := substituteArgs(strings.TrimSpace(in.Args), t.args)
	if dir == "" {
		return NewDirectiveError("WORKDIR", in.Line, "missing directory")
	}
	// Relative directories chain off the previous working directory.
	if !path.IsAbs(dir) && t.workdir != "" {
		dir = path.Join(t.workdir, dir)
	}
	t.def.add(SectionPost, "mkdir -p "+dir)
	t.def.add(SectionPost, "cd "+dir)
	t.workdir = dir
	return nil
}

func (t *translation) translateUser(in dockerfile.Instruction) error {
	name := strings.Fields(in.Args)
	if len(name) == 0 {
		return NewDirectiveError("USER", in.Line, "missing user name")
	}
	t.def.add(SectionPost, fmt.Sprintf("su - %s # USER %s", name[0], name[0]))
	t.def.warn("line %d: USER cannot switch the build user persistently; subsequent commands run as the invoking user", in.Line)
	return nil
}

func (t *translation) translateHealthcheck(in dockerfile.Instruction) error {
	if strings.EqualFold(strings.TrimSpace(in.Args), "NONE") {
		return nil
	}

	args := in.Args
	if idx := findHealthcheckCmd(args); idx >= 0 {
		args = strings.TrimSpace(args[idx+len("CMD"):])
	}
	if strings.HasPrefix(args, "[") {
		var words []string
		if err := json.Unmarshal([]byte(args), &words); err == nil {
			args = shellescape.QuoteCommand(words)
		}
	}
	if args != "" {
		t.def.add(SectionTest, args)
	}
	return nil
}

func (t *translation) ignoreWithWarning(in dockerfile.Instruction) error {
	t.def.warn("line %d: %s has no definition-file equivalent; ignored", in.Line, in.Directive)
	return nil
}

// fileFields splits COPY/ADD arguments, honoring the JSON form, and strips
// ownership flags. Copying from another stage is a hard failure.
func (t *translation) fileFields(in dockerfile.Instruction) ([]string, error) {
	fields, isExec := in.ExecForm()
	if !isExec {
		fields = strings.Fields(in.Args)
	}
	for len(fields) > 0 && strings.HasPrefix(fields[0], "--") {
		if strings.HasPrefix(fields[0], "--from") {
			return nil, NewDirectiveError(string(in.Directive), in.Line, "copying from another build stage is not supported")
		}
		t.def.warn("line %d: %s flag %s ignored", in.Line, in.Directive, fields[0])
		fields = fields[1:]
	}
	return fields, nil
}

// finish assembles the runscript from the recorded ENTRYPOINT and CMD, the
// same script doubling as the startscript used by instances.
func (t *translation) finish() {
	script := strings.TrimSpace(strings.TrimSpace(t.entry) + " " + strings.TrimSpace(t.command))
	if script == "" {
		return
	}
	if !strings.HasPrefix(script, "exec") {
		script = "exec " + script
	}
	if !runscriptArgsRef.MatchString(script) {
		script += ` "$@"`
	}

	if t.workdir != "" {
		t.def.add(SectionRunscript, "cd "+t.workdir)
		t.def.add(SectionStartscript, "cd "+t.workdir)
	}
	t.def.add(SectionRunscript, script)
	t.def.add(SectionStartscript, script)
}

// =============================================================================
// Argument Helpers
// =============================================================================

var archivePattern = regexp.MustCompile(`\.(tar|tar\.gz|tgz|tar\.bz2|tar\.xz|gz|gzip|bz2|xz)$`)

func commandPhrase(in dockerfile.Instruction) string {
	if words, ok := in.ExecForm(); ok {
		return shellescape.QuoteCommand(words)
	}
	return strings.TrimSpace(in.Args)
}

// substituteArgs replaces $NAME and ${NAME} references with declared ARG
// values. Longer names substitute first so one name never clobbers another's
// prefix.
func substituteArgs(s string, args map[string]string) string {
	if len(args) == 0 {
		return s
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		s = strings.ReplaceAll(s, "${"+name+"}", args[name])
		s = strings.ReplaceAll(s, "$"+name, args[name])
	}
	return s
}

// parseEnvPairs splits ENV arguments into KEY=VALUE strings, handling the
// KEY=VALUE, multi-pair and legacy "KEY VALUE" forms.
func parseEnvPairs(args string) []string {
	tokens := tokenizeQuoted(args)
	var pairs []string
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		switch {
		case strings.HasSuffix(token, "="):
			value := ""
			if i+1 < len(tokens) {
				i++
				value = tokens[i]
			}
			pairs = append(pairs, token+value)
		case strings.Contains(token, "="):
			pairs = append(pairs, token)
		default:
			// Legacy form: everything after the key is the value.
			value := strings.Join(tokens[i+1:], " ")
			pairs = append(pairs, token+"="+value)
			return pairs
		}
	}
	return pairs
}

// tokenizeQuoted splits on whitespace while keeping quoted regions intact,
// quotes included.
func tokenizeQuoted(s string) []string {
	var tokens []string
	var b strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			if b.Len() > 0 {
				tokens = append(tokens, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// downloadPath places a fetched URL under the destination, treating a
// trailing slash as a directory.
func downloadPath(url, dest string) string {
	if strings.HasSuffix(dest, "/") {
		return dest + path.Base(url)
	}
	return dest
}

// findHealthcheckCmd locates the CMD keyword separating healthcheck options
// from the command itself.
func findHealthcheckCmd(args string) int {
	upper := strings.ToUpper(args)
	idx := strings.Index(upper, "CMD")
	if idx < 0 {
		return -1
	}
	// CMD must be a standalone word.
	if idx > 0 && upper[idx-1] != ' ' && upper[idx-1] != '\t' {
		return -1
	}
	end := idx + len("CMD")
	if end < len(upper) && upper[end] != ' ' && upper[end] != '\t' {
		return -1
	}
	return idx
}
