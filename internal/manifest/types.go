package manifest

import "fmt"

// Document is one parsed YAML document from a manifest file.
// The raw object is kept alongside the identifying fields so callers can
// re-serialize it for the cluster without lossy round-trips.
type Document struct {
	APIVersion string
	Kind       string
	Name       string
	Namespace  string
	Object     map[string]interface{}
}

// Locator returns a human-readable position for the document, used as the
// source field on extracted requirements.
func (d Document) Locator() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Name)
}

// ServiceAccount is a service account referenced by one or more workloads.
type ServiceAccount struct {
	Name      string
	Namespace string
	Resources []string
}

// Warning is a non-fatal problem found while parsing a document.
// Warnings are collected and reported; they never fail the batch.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) String() string {
	if w.Path == "" {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// Analysis is the combined result of parsing one or more manifest sources.
type Analysis struct {
	Path            string
	Documents       []Document
	ServiceAccounts []ServiceAccount
	Namespaces      []string
	Warnings        []Warning
}

// Workloads returns only the pod-bearing documents.
func (a *Analysis) Workloads() []Document {
	var out []Document
	for _, doc := range a.Documents {
		if IsWorkloadKind(doc.Kind) {
			out = append(out, doc)
		}
	}
	return out
}

// ServiceAccountNames returns the distinct service account names in the
// analysis, defaulting to "default" when no workload names one.
func (a *Analysis) ServiceAccountNames() []string {
	if len(a.ServiceAccounts) == 0 {
		return []string{"default"}
	}
	names := make([]string, 0, len(a.ServiceAccounts))
	for _, sa := range a.ServiceAccounts {
		names = append(names, sa.Name)
	}
	return names
}
