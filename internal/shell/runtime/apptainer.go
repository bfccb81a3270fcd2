package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
)

// DefaultBinary is the runtime binary used when none is configured.
// Singularity installations can point the config at their binary instead.
const DefaultBinary = "apptainer"

// =============================================================================
// Apptainer Client
// =============================================================================

// Apptainer drives the apptainer binary through its CLI.
type Apptainer struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

// NewApptainer creates a runtime client for the given binary.
func NewApptainer(bin string, runner Runner, logger *slog.Logger) *Apptainer {
	if bin == "" {
		bin = DefaultBinary
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Apptainer{bin: bin, runner: runner, logger: logger}
}

// Available verifies the runtime binary is on PATH.
func (a *Apptainer) Available() error {
	if _, err := exec.LookPath(a.bin); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, a.bin)
	}
	return nil
}

// Binary returns the configured binary name.
func (a *Apptainer) Binary() string {
	return a.bin
}

// Version reports the runtime version string.
func (a *Apptainer) Version(ctx context.Context) (string, error) {
	out, err := a.output(ctx, "version", "", "version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Build builds an image from a definition file.
func (a *Apptainer) Build(ctx context.Context, spec BuildSpec) error {
	return a.run(ctx, "build", spec.Dir, buildArgs(spec)...)
}

// InstanceStart starts a named long-running instance.
func (a *Apptainer) InstanceStart(ctx context.Context, spec StartSpec) error {
	return a.run(ctx, "instance start", "", startArgs(spec)...)
}

// InstanceStop stops an instance.
func (a *Apptainer) InstanceStop(ctx context.Context, spec StopSpec) error {
	return a.run(ctx, "instance stop", "", stopArgs(spec)...)
}

// InstanceList returns the instances registered with the runtime for the
// current user.
func (a *Apptainer) InstanceList(ctx context.Context) ([]InstanceInfo, error) {
	out, err := a.output(ctx, "instance list", "", "instance", "list", "--json")
	if err != nil {
		return nil, err
	}

	var list instanceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("decode instance list: %w", err)
	}
	return list.Instances, nil
}

// Exec executes a command inside a running instance.
func (a *Apptainer) Exec(ctx context.Context, spec ExecSpec) error {
	return a.run(ctx, "exec", "", execArgs(spec)...)
}

// RunImage runs an image in the foreground until it exits.
func (a *Apptainer) RunImage(ctx context.Context, spec RunSpec) error {
	return a.run(ctx, "run", "", runArgs(spec)...)
}

// =============================================================================
// Invocation Plumbing
// =============================================================================

func (a *Apptainer) run(ctx context.Context, op, dir string, args ...string) error {
	a.logger.Debug("runtime invocation", "cmd", shellescape.QuoteCommand(append([]string{a.bin}, args...)))
	if err := a.runner.Run(ctx, dir, a.bin, args...); err != nil {
		code, stderr := exitDetails(err)
		return NewInvocationError(op, args, code, stderr)
	}
	return nil
}

func (a *Apptainer) output(ctx context.Context, op, dir string, args ...string) ([]byte, error) {
	a.logger.Debug("runtime invocation", "cmd", shellescape.QuoteCommand(append([]string{a.bin}, args...)))
	out, err := a.runner.Output(ctx, dir, a.bin, args...)
	if err != nil {
		code, stderr := exitDetails(err)
		return nil, NewInvocationError(op, args, code, stderr)
	}
	return out, nil
}

// =============================================================================
// Argument Builders
// =============================================================================

func buildArgs(spec BuildSpec) []string {
	args := []string{"build"}
	if spec.Force {
		args = append(args, "-F")
	}
	if spec.Fakeroot {
		args = append(args, "--fakeroot")
	}
	return append(args, spec.ImageFile, spec.DefFile)
}

func startArgs(spec StartSpec) []string {
	args := []string{"instance", "start"}
	args = append(args, commonFlags(spec.WritableTmpfs, spec.Binds, spec.Env)...)
	if spec.Hostname != "" {
		args = append(args, "--hostname", spec.Hostname)
	}
	args = append(args, spec.Image, spec.Name)
	return append(args, spec.Args...)
}

func stopArgs(spec StopSpec) []string {
	args := []string{"instance", "stop"}
	if spec.Force {
		args = append(args, "-f")
	}
	if spec.TimeoutSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(spec.TimeoutSeconds))
	}
	if spec.All {
		return append(args, "-a")
	}
	return append(args, spec.Name)
}

func execArgs(spec ExecSpec) []string {
	args := []string{"exec"}
	args = append(args, envFlags(spec.Env)...)
	args = append(args, "instance://"+spec.Instance)
	return append(args, spec.Command...)
}

func runArgs(spec RunSpec) []string {
	verb := "run"
	if spec.Exec {
		verb = "exec"
	}
	args := []string{verb}
	args = append(args, commonFlags(spec.WritableTmpfs, spec.Binds, spec.Env)...)
	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

// commonFlags renders the flags shared by instance starts and one-off runs.
// Env keys are sorted so invocations are deterministic.
func commonFlags(writableTmpfs bool, binds []string, env map[string]string) []string {
	var args []string
	if writableTmpfs {
		args = append(args, "--writable-tmpfs")
	}
	for _, bind := range binds {
		args = append(args, "--bind", bind)
	}
	return append(args, envFlags(env)...)
}

func envFlags(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "--env", k+"="+env[k])
	}
	return args
}
