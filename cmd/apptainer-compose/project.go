package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/orchestrator"
	"github.com/apptainer-compose/apptainer-compose/internal/shell/runtime"
)

// =============================================================================
// Project Loading
// =============================================================================

// ErrComposeFileNotFound means no compose file was given and none of the
// conventional names exist in the working directory.
var ErrComposeFileNotFound = errors.New("no compose file found")

// composeFileNames are probed in order when no file is given.
var composeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// project bundles everything a subcommand needs about the loaded compose
// project.
type project struct {
	Doc   *compose.Document
	Graph *graph.Graph
	// Dir is the absolute directory of the compose file; relative build
	// contexts and bind sources anchor here.
	Dir string
	// File is the absolute path of the compose file.
	File string
}

// loadProject locates and parses the compose file and builds the dependency
// graph. Interpolation sees the process environment merged over the env file.
func loadProject() (*project, error) {
	file, err := findComposeFile(flagFile)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(file)

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	env, err := loadEnvironment(dir)
	if err != nil {
		return nil, err
	}

	name := flagProjectName
	if name == "" {
		name = normalizeProjectName(filepath.Base(dir))
	}

	doc, err := compose.ParseDocument(content, compose.Options{
		ProjectName: name,
		WorkingDir:  dir,
		Environment: env,
	})
	if err != nil {
		return nil, err
	}

	g, err := graph.New(doc)
	if err != nil {
		return nil, err
	}

	return &project{Doc: doc, Graph: g, Dir: dir, File: file}, nil
}

// findComposeFile resolves the compose file path. An explicit path must
// exist; otherwise the conventional names are probed in the working
// directory.
func findComposeFile(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("compose file %s: %w", explicit, err)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for _, name := range composeFileNames {
		candidate := filepath.Join(cwd, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrComposeFileNotFound, strings.Join(composeFileNames, ", "))
}

// loadEnvironment builds the interpolation environment: the env file first,
// then the process environment on top, so shell variables win over .env
// entries.
func loadEnvironment(dir string) (map[string]string, error) {
	env := make(map[string]string)

	envFile := flagEnvFile
	if envFile == "" {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			envFile = candidate
		}
	}
	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// normalizeProjectName lowercases a directory name and strips everything the
// project name grammar rejects. Names must start with a letter or digit and
// may contain only letters, digits, dashes and underscores.
func normalizeProjectName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		}
	}
	if b.Len() == 0 {
		return compose.DefaultProjectName
	}
	return b.String()
}

// =============================================================================
// Orchestrator Construction
// =============================================================================

// newRuntime builds the runtime client from config.
func newRuntime() *runtime.Apptainer {
	return runtime.NewApptainer(cfg.Runtime.Binary, nil, logger)
}

// newOrchestrator wires the orchestrator for a loaded project. The runtime
// binary must be on PATH; mutate applies per-command flag overrides to the
// options assembled from config.
func newOrchestrator(p *project, mutate func(*orchestrator.Options)) (*orchestrator.Orchestrator, error) {
	rt := newRuntime()
	if err := rt.Available(); err != nil {
		return nil, err
	}

	artifactsDir := cfg.Stack.ArtifactsDir
	if artifactsDir != "" && !filepath.IsAbs(artifactsDir) {
		artifactsDir = filepath.Join(p.Dir, artifactsDir)
	}

	opts := orchestrator.Options{
		ProjectDir:     p.Dir,
		ArtifactsDir:   artifactsDir,
		WritableTmpfs:  cfg.Stack.WritableTmpfs,
		Fakeroot:       cfg.Stack.Fakeroot,
		AbortOnFailure: cfg.Stack.AbortOnFailure,
		Parallel:       cfg.Stack.Parallel,
		StartTimeout:   cfg.Runtime.StartTimeout,
		StopTimeout:    cfg.Runtime.StopTimeout,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return orchestrator.New(rt, logger, opts), nil
}
