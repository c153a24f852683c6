package cluster

import (
	"context"
	"testing"
	"time"

	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
)

func fakeClient(t *testing.T, objects ...runtime.Object) *Client {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{
		SCCResource: "SecurityContextConstraintsList",
		{Version: "v1", Resource: "pods"}:                    "PodList",
		{Group: "apps", Version: "v1", Resource: "deployments"}: "DeploymentList",
		{Version: "v1", Resource: "serviceaccounts"}:         "ServiceAccountList",
		{Version: "v1", Resource: "configmaps"}:              "ConfigMapList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objects...)
	return NewClientWith(dyn, k8sfake.NewSimpleClientset(), WithPollInterval(time.Millisecond))
}

func TestFetchPolicyAbsent(t *testing.T) {
	c := fakeClient(t)
	got, err := c.FetchPolicy(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FetchPolicy() error = %v", err)
	}
	if got != nil {
		t.Errorf("absent policies must come back nil, got %+v", got)
	}
}

func TestListPolicies(t *testing.T) {
	c := fakeClient(t)
	ctx := context.Background()

	for _, name := range []string{"restricted", "anyuid", "team-scc"} {
		if err := c.ApplyPolicy(ctx, policy.Baseline(name)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListPolicies() returned %d policies", len(got))
	}
	for i, want := range []string{"anyuid", "restricted", "team-scc"} {
		if got[i].Metadata.Name != want {
			t.Errorf("policies[%d] = %q, want %q (sorted by name)", i, got[i].Metadata.Name, want)
		}
	}
}

func TestListPoliciesEmpty(t *testing.T) {
	c := fakeClient(t)
	got, err := c.ListPolicies(context.Background())
	if err != nil {
		t.Fatalf("ListPolicies() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty cluster should list no policies, got %d", len(got))
	}
}

func TestApplyPolicyCreateAndFetch(t *testing.T) {
	c := fakeClient(t)
	cfg := policy.Baseline("web-scc")
	cfg.AllowedCapabilities = []string{"NET_BIND_SERVICE"}

	if err := c.ApplyPolicy(context.Background(), cfg); err != nil {
		t.Fatalf("ApplyPolicy() error = %v", err)
	}

	got, err := c.FetchPolicy(context.Background(), "web-scc")
	if err != nil {
		t.Fatalf("FetchPolicy() error = %v", err)
	}
	if got == nil {
		t.Fatal("created policy not found")
	}
	if !got.HasCapability("NET_BIND_SERVICE") {
		t.Errorf("capabilities lost on the round trip: %v", got.AllowedCapabilities)
	}
}

func TestApplyPolicyUpdatesExisting(t *testing.T) {
	c := fakeClient(t)
	ctx := context.Background()

	if err := c.ApplyPolicy(ctx, policy.Baseline("p")); err != nil {
		t.Fatal(err)
	}

	updated := policy.Baseline("p")
	updated.AllowHostNetwork = true
	if err := c.ApplyPolicy(ctx, updated); err != nil {
		t.Fatalf("update error = %v", err)
	}

	got, _ := c.FetchPolicy(ctx, "p")
	if got == nil || !got.AllowHostNetwork {
		t.Error("update did not land")
	}
}

func TestFetchBindings(t *testing.T) {
	rb := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: "web-scc-binding", Namespace: "shop"},
		Subjects: []rbacv1.Subject{
			{Kind: "ServiceAccount", Name: "web-sa", Namespace: "shop"},
			{Kind: "ServiceAccount", Name: "other-sa", Namespace: "shop"},
			{Kind: "User", Name: "alice"},
		},
		RoleRef: rbacv1.RoleRef{Kind: "ClusterRole", Name: RoleNamePrefix + "web-scc"},
	}
	unrelated := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: "viewers", Namespace: "shop"},
		Subjects:   []rbacv1.Subject{{Kind: "ServiceAccount", Name: "web-sa", Namespace: "shop"}},
		RoleRef:    rbacv1.RoleRef{Kind: "ClusterRole", Name: "view"},
	}

	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme,
		map[schema.GroupVersionResource]string{SCCResource: "SecurityContextConstraintsList"})
	c := NewClientWith(dyn, k8sfake.NewSimpleClientset(rb, unrelated))

	bindings, err := c.FetchBindings(context.Background(), []string{"web-sa"}, "shop")
	if err != nil {
		t.Fatalf("FetchBindings() error = %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding, got %+v", bindings)
	}
	if bindings[0].PolicyName != "web-scc" || bindings[0].ServiceAccount != "web-sa" {
		t.Errorf("unexpected binding %+v", bindings[0])
	}
}

func TestOrderDocuments(t *testing.T) {
	docs := []manifest.Document{
		{Kind: "Pod", Name: "p"},
		{Kind: "Deployment", Name: "d"},
		{Kind: "ServiceAccount", Name: "sa"},
		{Kind: "Namespace", Name: "ns"},
		{Kind: "ConfigMap", Name: "cm"},
	}
	ordered := OrderDocuments(docs)

	want := []string{"Namespace", "ServiceAccount", "ConfigMap", "Deployment", "Pod"}
	for i, kind := range want {
		if ordered[i].Kind != kind {
			t.Fatalf("position %d = %s, want %s (full order %v)", i, ordered[i].Kind, kind, ordered)
		}
	}
}

func TestApplyWorkloadDryRunSkipsReadinessWait(t *testing.T) {
	c := fakeClient(t)
	c.dryRun = true

	docs := []manifest.Document{{
		APIVersion: "v1", Kind: "ConfigMap", Name: "cfg", Namespace: "shop",
		Object: map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "ConfigMap",
			"metadata":   map[string]interface{}{"name": "cfg", "namespace": "shop"},
		},
	}}

	result, err := c.ApplyWorkload(context.Background(), docs)
	if err != nil {
		t.Fatalf("ApplyWorkload() error = %v", err)
	}
	if !result.Succeeded || len(result.Applied) != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestWorkloadStatusReadyPod(t *testing.T) {
	pod := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata":   map[string]interface{}{"name": "web", "namespace": "shop"},
		"status":     map[string]interface{}{"phase": "Running"},
	}}
	c := fakeClient(t, pod)

	docs := []manifest.Document{{
		APIVersion: "v1", Kind: "Pod", Name: "web", Namespace: "shop",
		Object: pod.Object,
	}}
	result, err := c.WorkloadStatus(context.Background(), docs)
	if err != nil {
		t.Fatalf("WorkloadStatus() error = %v", err)
	}
	if !result.Succeeded {
		t.Errorf("running pod should be ready, got %+v", result)
	}
}

func TestIsAdmissionDenied(t *testing.T) {
	denied := []string{
		`pods "web" is forbidden: unable to validate against any security context constraint: []`,
		`provider "restricted": Forbidden: not usable by user or serviceaccount`,
		`capability may not be used`,
		`spec.containers[0].securityContext: Forbidden: hostPath volumes are not allowed to be used`,
		`runAsUser: Invalid value: 0: must be in the ranges: [1000690000, 1000699999]`,
	}
	for _, msg := range denied {
		if !IsAdmissionDenied(msg) {
			t.Errorf("should detect SCC denial: %q", msg)
		}
	}

	for _, msg := range []string{
		"connection refused",
		"image pull backoff",
		"deployment exceeded its progress deadline",
	} {
		if IsAdmissionDenied(msg) {
			t.Errorf("false positive on %q", msg)
		}
	}
}

func TestBuildRoleBindings(t *testing.T) {
	bindings := BuildRoleBindings("web-scc", []manifest.ServiceAccount{
		{Name: "web-sa", Namespace: "shop"},
		{Name: "worker-sa", Namespace: "shop"},
		{Name: "batch-sa", Namespace: "batch"},
	})

	if len(bindings) != 2 {
		t.Fatalf("expected one binding per namespace, got %d", len(bindings))
	}
	shop := bindings[0]
	if shop.Namespace != "shop" || len(shop.Subjects) != 2 {
		t.Errorf("unexpected shop binding %+v", shop)
	}
	if shop.RoleRef.Name != "system:openshift:scc:web-scc" {
		t.Errorf("roleRef = %q", shop.RoleRef.Name)
	}
}
