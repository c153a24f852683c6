package manifest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sccpilot/sccpilot/internal/errors"
)

var supportedKinds = map[string]bool{
	"Pod": true, "Deployment": true, "ReplicaSet": true, "StatefulSet": true,
	"DaemonSet": true, "Job": true, "CronJob": true, "DeploymentConfig": true,
	"ServiceAccount": true, "Secret": true, "ConfigMap": true,
	"PersistentVolumeClaim": true, "Service": true, "Route": true,
	"Ingress": true, "NetworkPolicy": true, "Namespace": true,
	"SecurityContextConstraints": true, "Role": true, "RoleBinding": true,
	"ClusterRole": true, "ClusterRoleBinding": true,
}

var workloadKinds = map[string]bool{
	"Pod": true, "Deployment": true, "ReplicaSet": true, "StatefulSet": true,
	"DaemonSet": true, "Job": true, "CronJob": true, "DeploymentConfig": true,
}

// IsWorkloadKind reports whether kind carries a pod template.
func IsWorkloadKind(kind string) bool {
	return workloadKinds[kind]
}

// Parser parses Kubernetes/OpenShift YAML manifests into documents the rest
// of the agent can reason about. Unknown kinds and undecodable documents are
// downgraded to warnings.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a single multi-document YAML file.
func (p *Parser) ParseFile(path string) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeManifestNotFound, fmt.Sprintf("manifest %s not found", path), err)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("reading manifest %s", path), err)
	}
	defer f.Close()

	return p.Parse(f, path)
}

// Parse parses a multi-document YAML stream. The path is only used for
// warning and locator messages.
func (p *Parser) Parse(r io.Reader, path string) (*Analysis, error) {
	analysis := &Analysis{Path: path}
	namespaces := map[string]bool{}

	dec := yaml.NewDecoder(r)
	for i := 0; ; i++ {
		var raw map[string]interface{}
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			analysis.Warnings = append(analysis.Warnings, Warning{
				Path:    fmt.Sprintf("%s[%d]", path, i),
				Message: fmt.Sprintf("undecodable document: %v", err),
			})
			// yaml.Decoder cannot resume after a syntax error.
			break
		}
		if raw == nil {
			continue
		}

		doc := documentFrom(raw)
		if doc.Kind == "" {
			analysis.Warnings = append(analysis.Warnings, Warning{
				Path:    fmt.Sprintf("%s[%d]", path, i),
				Message: "document has no kind, skipped",
			})
			continue
		}
		if !supportedKinds[doc.Kind] {
			analysis.Warnings = append(analysis.Warnings, Warning{
				Path:    fmt.Sprintf("%s[%d]", path, i),
				Message: fmt.Sprintf("unsupported resource kind %q, skipped", doc.Kind),
			})
			continue
		}

		analysis.Documents = append(analysis.Documents, doc)
		namespaces[doc.Namespace] = true

		switch {
		case doc.Kind == "ServiceAccount":
			addServiceAccount(analysis, doc.Name, doc.Namespace, "")
		case IsWorkloadKind(doc.Kind):
			if sa := serviceAccountName(doc); sa != "" {
				addServiceAccount(analysis, sa, doc.Namespace, doc.Locator())
			}
		}
	}

	for ns := range namespaces {
		analysis.Namespaces = append(analysis.Namespaces, ns)
	}
	sort.Strings(analysis.Namespaces)

	return analysis, nil
}

// ParseDirectory parses every .yaml/.yml file under dir.
func (p *Parser) ParseDirectory(dir string) ([]*Analysis, error) {
	var results []*Analysis

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		analysis, err := p.ParseFile(path)
		if err != nil {
			return err
		}
		results = append(results, analysis)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("walking manifest directory %s", dir), err)
	}
	return results, nil
}

// Combine merges multiple analyses into one, deduplicating service accounts
// by (name, namespace).
func Combine(analyses ...*Analysis) *Analysis {
	combined := &Analysis{Path: "combined"}
	namespaces := map[string]bool{}
	saIndex := map[string]int{}

	for _, a := range analyses {
		if a == nil {
			continue
		}
		combined.Documents = append(combined.Documents, a.Documents...)
		combined.Warnings = append(combined.Warnings, a.Warnings...)
		for _, ns := range a.Namespaces {
			namespaces[ns] = true
		}
		for _, sa := range a.ServiceAccounts {
			key := sa.Namespace + "/" + sa.Name
			if i, ok := saIndex[key]; ok {
				combined.ServiceAccounts[i].Resources = mergeStrings(combined.ServiceAccounts[i].Resources, sa.Resources)
				continue
			}
			saIndex[key] = len(combined.ServiceAccounts)
			combined.ServiceAccounts = append(combined.ServiceAccounts, sa)
		}
	}

	for ns := range namespaces {
		combined.Namespaces = append(combined.Namespaces, ns)
	}
	sort.Strings(combined.Namespaces)

	return combined
}

// PodSpec extracts the pod spec fragment from a workload document.
// Returns nil when the document carries none.
func PodSpec(doc Document) map[string]interface{} {
	spec, _ := doc.Object["spec"].(map[string]interface{})
	if spec == nil {
		return nil
	}

	switch doc.Kind {
	case "Pod":
		return spec
	case "Deployment", "ReplicaSet", "StatefulSet", "DaemonSet", "Job", "DeploymentConfig":
		return nestedMap(spec, "template", "spec")
	case "CronJob":
		return nestedMap(spec, "jobTemplate", "spec", "template", "spec")
	}
	return nil
}

func documentFrom(raw map[string]interface{}) Document {
	doc := Document{Object: raw}
	doc.APIVersion, _ = raw["apiVersion"].(string)
	doc.Kind, _ = raw["kind"].(string)

	meta, _ := raw["metadata"].(map[string]interface{})
	if meta != nil {
		doc.Name, _ = meta["name"].(string)
		doc.Namespace, _ = meta["namespace"].(string)
	}
	if doc.Name == "" {
		doc.Name = "unknown"
	}
	if doc.Namespace == "" {
		doc.Namespace = "default"
	}
	return doc
}

func serviceAccountName(doc Document) string {
	spec := PodSpec(doc)
	if spec == nil {
		return ""
	}
	if name, _ := spec["serviceAccountName"].(string); name != "" {
		return name
	}
	name, _ := spec["serviceAccount"].(string)
	return name
}

func addServiceAccount(a *Analysis, name, namespace, resource string) {
	for i := range a.ServiceAccounts {
		if a.ServiceAccounts[i].Name == name && a.ServiceAccounts[i].Namespace == namespace {
			if resource != "" {
				a.ServiceAccounts[i].Resources = mergeStrings(a.ServiceAccounts[i].Resources, []string{resource})
			}
			return
		}
	}
	sa := ServiceAccount{Name: name, Namespace: namespace}
	if resource != "" {
		sa.Resources = []string{resource}
	}
	a.ServiceAccounts = append(a.ServiceAccounts, sa)
}

func mergeStrings(dst, src []string) []string {
	seen := map[string]bool{}
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func nestedMap(m map[string]interface{}, keys ...string) map[string]interface{} {
	cur := m
	for _, k := range keys {
		next, _ := cur[k].(map[string]interface{})
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
