package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const multiDocManifest = `apiVersion: v1
kind: Pod
metadata:
  name: web
  namespace: shop
spec:
  serviceAccountName: web-sa
  containers:
    - name: app
      image: registry.example.com/web:1.2
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: worker
  namespace: shop
spec:
  template:
    spec:
      serviceAccount: worker-sa
      containers:
        - name: worker
          image: registry.example.com/worker:1.2
---
apiVersion: v1
kind: ServiceAccount
metadata:
  name: web-sa
  namespace: shop
---
apiVersion: example.com/v1
kind: Widget
metadata:
  name: odd-one
`

func TestParseMultiDocument(t *testing.T) {
	p := NewParser()
	analysis, err := p.Parse(strings.NewReader(multiDocManifest), "app.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(analysis.Documents) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(analysis.Documents))
	}
	if len(analysis.Warnings) != 1 {
		t.Fatalf("expected 1 warning for the unsupported kind, got %v", analysis.Warnings)
	}
	if !strings.Contains(analysis.Warnings[0].Message, "Widget") {
		t.Errorf("warning should name the unsupported kind: %s", analysis.Warnings[0].Message)
	}

	workloads := analysis.Workloads()
	if len(workloads) != 2 {
		t.Fatalf("expected 2 workloads, got %d", len(workloads))
	}
	if workloads[0].Locator() != "Pod/web" {
		t.Errorf("unexpected locator %q", workloads[0].Locator())
	}
}

func TestParseCollectsServiceAccounts(t *testing.T) {
	p := NewParser()
	analysis, err := p.Parse(strings.NewReader(multiDocManifest), "app.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	names := analysis.ServiceAccountNames()
	want := map[string]bool{"web-sa": true, "worker-sa": true}
	if len(names) != len(want) {
		t.Fatalf("expected %d service accounts, got %v", len(want), names)
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected service account %q", name)
		}
	}
}

func TestParseDefaultsServiceAccount(t *testing.T) {
	p := NewParser()
	analysis, err := p.Parse(strings.NewReader(`apiVersion: v1
kind: Pod
metadata:
  name: bare
spec:
  containers:
    - name: app
      image: img
`), "bare.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	names := analysis.ServiceAccountNames()
	if len(names) != 1 || names[0] != "default" {
		t.Errorf("expected default service account fallback, got %v", names)
	}
	if analysis.Documents[0].Namespace != "default" {
		t.Errorf("expected default namespace, got %q", analysis.Documents[0].Namespace)
	}
}

func TestPodSpecPerKind(t *testing.T) {
	tests := []struct {
		kind string
		doc  map[string]interface{}
		want bool
	}{
		{
			kind: "Pod",
			doc:  map[string]interface{}{"spec": map[string]interface{}{"hostNetwork": true}},
			want: true,
		},
		{
			kind: "Deployment",
			doc: map[string]interface{}{"spec": map[string]interface{}{
				"template": map[string]interface{}{"spec": map[string]interface{}{"hostPID": true}},
			}},
			want: true,
		},
		{
			kind: "CronJob",
			doc: map[string]interface{}{"spec": map[string]interface{}{
				"jobTemplate": map[string]interface{}{"spec": map[string]interface{}{
					"template": map[string]interface{}{"spec": map[string]interface{}{}},
				}},
			}},
			want: true,
		},
		{
			kind: "Deployment",
			doc:  map[string]interface{}{"spec": map[string]interface{}{}},
			want: false,
		},
		{
			kind: "Service",
			doc:  map[string]interface{}{"spec": map[string]interface{}{}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			spec := PodSpec(Document{Kind: tt.kind, Object: tt.doc})
			if (spec != nil) != tt.want {
				t.Errorf("PodSpec(%s) presence = %v, want %v", tt.kind, spec != nil, tt.want)
			}
		})
	}
}

func TestParseFileNotFound(t *testing.T) {
	p := NewParser()
	_, err := p.ParseFile("/nonexistent/app.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "MANIFEST-001") {
		t.Errorf("expected MANIFEST-001, got %v", err)
	}
}

func TestParseDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.yaml":  "apiVersion: v1\nkind: Pod\nmetadata: {name: a}\nspec: {containers: []}\n",
		"b.yml":   "apiVersion: v1\nkind: ConfigMap\nmetadata: {name: b}\n",
		"skip.md": "not yaml",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := NewParser()
	results, err := p.ParseDirectory(dir)
	if err != nil {
		t.Fatalf("ParseDirectory() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 parsed files, got %d", len(results))
	}

	combined := Combine(results...)
	if len(combined.Documents) != 2 {
		t.Errorf("expected 2 combined documents, got %d", len(combined.Documents))
	}
}

func TestParseMalformedDocumentWarns(t *testing.T) {
	p := NewParser()
	analysis, err := p.Parse(strings.NewReader("kind: Pod\nmetadata: {name: ok}\nspec: {}\n---\n:\n  - bad: [unclosed\n"), "broken.yaml")
	if err != nil {
		t.Fatalf("Parse() should not fail the batch, got %v", err)
	}
	if len(analysis.Documents) != 1 {
		t.Errorf("valid document before the broken one should survive, got %d", len(analysis.Documents))
	}
	if len(analysis.Warnings) == 0 {
		t.Error("expected a warning for the undecodable document")
	}
}
