package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parse Options
// =============================================================================

// DefaultProjectName is used when the caller supplies no project name.
const DefaultProjectName = "compose"

// Options controls document loading.
type Options struct {
	// ProjectName namespaces instances and artifacts. Defaults to
	// DefaultProjectName.
	ProjectName string
	// WorkingDir anchors relative build contexts and extends file references.
	WorkingDir string
	// Environment supplies ${VAR} interpolation values, typically the process
	// environment merged with a .env file. Nil means no variables are set.
	Environment map[string]string
}

// knownTopLevelKeys are the document keys the loader understands. Anything
// else is pruned before loading and recorded as a warning, so documents from
// newer compose dialects still parse.
var knownTopLevelKeys = map[string]bool{
	"name":     true,
	"version":  true,
	"services": true,
	"networks": true,
	"volumes":  true,
	"secrets":  true,
	"configs":  true,
}

// =============================================================================
// Parser Functions
// =============================================================================

// ParseDocument parses compose YAML into a Document. Services come back in
// declaration order. Structural problems are reported as ParseError values
// wrapping the package sentinels.
func ParseDocument(content []byte, opts Options) (*Document, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyDocument
	}

	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewParseError("", yamlErrorMessage(err), ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "document is not a mapping", ErrInvalidYAML)
	}

	var warnings []string
	for key := range dict {
		if knownTopLevelKeys[key] || strings.HasPrefix(key, "x-") {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("ignoring unknown top-level key %q", key))
		delete(dict, key)
	}
	sort.Strings(warnings)

	// The loader returns services as a map; declaration order has to come
	// from the document itself.
	order, err := scanServiceOrder(content)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, ErrNoServices
	}

	project, err := loadProject(content, dict, opts)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	doc := &Document{
		Name:     project.Name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
		Warnings: warnings,
	}

	// Convert services in declaration order so the first malformed service in
	// the document is the one reported.
	for _, name := range order {
		svc, ok := project.Services[name]
		if !ok {
			continue
		}
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		doc.Services = append(doc.Services, converted)
	}

	for _, name := range sortedKeys(project.Networks) {
		doc.Networks = append(doc.Networks, convertNetwork(name, project.Networks[name]))
	}
	for _, name := range sortedKeys(project.Volumes) {
		doc.Volumes = append(doc.Volumes, convertVolume(name, project.Volumes[name]))
	}

	return doc, nil
}

// scanServiceOrder walks the YAML node tree and returns the service names in
// the order the document declares them.
func scanServiceOrder(content []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, NewParseError("", yamlErrorMessage(err), ErrInvalidYAML)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, NewParseError("", "document is not a mapping", ErrInvalidYAML)
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, NewParseError("", "document is not a mapping", ErrInvalidYAML)
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "services" {
			continue
		}
		services := top.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, NewParseError("services", "services must be a mapping", ErrMalformedService)
		}
		order := make([]string, 0, len(services.Content)/2)
		for j := 0; j+1 < len(services.Content); j += 2 {
			order = append(order, services.Content[j].Value)
		}
		return order, nil
	}
	return nil, nil
}

// loadProject loads the document through the compose loader with
// interpolation and extends resolution enabled.
func loadProject(content []byte, dict map[string]interface{}, opts Options) (*types.Project, error) {
	projectName := opts.ProjectName
	if projectName == "" {
		projectName = DefaultProjectName
	}

	env := types.Mapping{}
	for k, v := range opts.Environment {
		env[k] = v
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		WorkingDir: opts.WorkingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  content,
				Config:   dict,
			},
		},
		Environment: env,
	}, func(lopts *loader.Options) {
		lopts.SetProjectName(projectName, true)
		lopts.SkipValidation = false
		lopts.SkipInterpolation = false
		// Paths stay as written; the image resolver anchors them itself.
		lopts.SkipNormalization = true
		// Image/build consistency is enforced below with this package's own
		// error types.
		lopts.SkipConsistencyCheck = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrMalformedService)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects document features the runtime cannot
// emulate.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	return nil
}

// convertService converts a loader service into the document model.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		NetworkMode: svc.NetworkMode,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if svc.Build != nil {
		if svc.Build.Target != "" {
			return Service{}, NewParseError(
				"services."+svc.Name+".build.target",
				"multi-stage build targets are not supported",
				ErrUnsupportedFeature,
			)
		}
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Args:       make(map[string]string),
		}
		for k, v := range svc.Build.Args {
			if v != nil {
				service.Build.Args[k] = *v
			} else {
				service.Build.Args[k] = ""
			}
		}
	}

	// Exactly one image source may be authoritative. A service with neither
	// flows through; the image resolver rejects it before anything runs.
	if service.Image != "" && service.Build != nil {
		return Service{}, NewParseError(
			"services."+svc.Name,
			"service declares both image and build",
			ErrMalformedService,
		)
	}

	for i, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				return Service{}, NewParseError(
					portField(svc.Name, i),
					"published port must be numeric",
					ErrInvalidPort,
				)
			}
			published = uint32(pub)
		}
		port := Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		}
		if err := validatePort(svc.Name, i, port); err != nil {
			return Service{}, err
		}
		service.Ports = append(service.Ports, port)
	}

	// Null environment values become empty strings, matching what the
	// runtime's --env flag expects.
	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		} else {
			service.Environment[k] = ""
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	for _, net := range sortedKeys(svc.Networks) {
		service.Networks = append(service.Networks, net)
	}

	for _, dep := range sortedKeys(svc.DependsOn) {
		condition := DependencyCondition(svc.DependsOn[dep].Condition)
		if condition == "" {
			condition = ConditionStarted
		}
		service.DependsOn = append(service.DependsOn, Dependency{
			Service:   dep,
			Condition: condition,
		})
	}

	service.Restart = RestartPolicy(svc.Restart)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	return service, nil
}

// convertNetwork converts a loader network to the document model.
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Internal: net.Internal,
		Labels:   net.Labels,
	}
}

// convertVolume converts a loader volume to the document model.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// =============================================================================
// Validation
// =============================================================================

func validatePort(service string, index int, port Port) error {
	if port.Target == 0 {
		return NewParseError(portField(service, index), "target port cannot be 0", ErrInvalidPort)
	}
	if port.Target > 65535 {
		return NewParseError(portField(service, index), "target port must be <= 65535", ErrInvalidPort)
	}
	if port.Published > 65535 {
		return NewParseError(portField(service, index), "published port must be <= 65535", ErrInvalidPort)
	}
	return nil
}

func portField(service string, index int) string {
	return fmt.Sprintf("services.%s.ports[%d]", service, index)
}

// yamlErrorMessage strips the yaml package's prefix so ParseError messages
// read as one sentence.
func yamlErrorMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "yaml: ")
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
