package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/graph"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
)

// =============================================================================
// Network Emulation
// =============================================================================

// Instances share the host network namespace, so cross-service traffic rides
// loopback. Name resolution is emulated by binding a generated hosts file over
// /etc/hosts that maps each shared-network peer to 127.0.0.1.

const hostsPreamble = `127.0.0.1 localhost
::1 localhost ip6-localhost ip6-loopback
fe00::0 ip6-localnet
ff00::0 ip6-mcastprefix
ff02::1 ip6-allnodes
ff02::2 ip6-allrouters
`

// writeHostsFiles writes one hosts file per service and returns the bind
// specs keyed by service name. Services with an explicit network_mode opt out
// and get no hosts bind.
func (o *Orchestrator) writeHostsFiles(doc *compose.Document, g *graph.Graph) (map[string]string, error) {
	binds := make(map[string]string)

	for _, svc := range doc.Services {
		if svc.NetworkMode != "" {
			o.logger.Debug("network_mode set, skipping hosts emulation", "service", svc.Name)
			continue
		}

		path := filepath.Join(o.opts.ArtifactsDir, stack.HostsFileName(svc.Name))
		content := hostsContent(svc.Name, g.SharedNetworkPeers(svc.Name))
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write hosts file for %s: %w", svc.Name, err)
		}
		binds[svc.Name] = path + ":/etc/hosts"
	}

	return binds, nil
}

func hostsContent(service string, peers []string) string {
	var b strings.Builder
	b.WriteString(hostsPreamble)
	b.WriteString("127.0.0.1 " + service + "\n")
	for _, peer := range peers {
		b.WriteString("127.0.0.1 " + peer + "\n")
	}
	return b.String()
}
