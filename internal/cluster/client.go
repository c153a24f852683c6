package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/log"
	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
)

// SCCResource is the OpenShift SecurityContextConstraints resource.
var SCCResource = schema.GroupVersionResource{
	Group:    "security.openshift.io",
	Version:  "v1",
	Resource: "securitycontextconstraints",
}

// applyOrder ranks kinds so dependencies land before their dependents.
// Unlisted kinds apply after everything ranked, before pods.
var applyOrder = map[string]int{
	"Namespace":                  0,
	"SecurityContextConstraints": 1,
	"ServiceAccount":             2,
	"Role":                       3,
	"ClusterRole":                3,
	"RoleBinding":                4,
	"ClusterRoleBinding":         4,
	"Secret":                     5,
	"ConfigMap":                  5,
	"PersistentVolumeClaim":      6,
	"Service":                    7,
	"Deployment":                 8,
	"DeploymentConfig":           8,
	"StatefulSet":                8,
	"DaemonSet":                  8,
	"ReplicaSet":                 8,
	"Job":                        8,
	"CronJob":                    8,
	"Route":                      9,
	"Ingress":                    9,
	"Pod":                        10,
}

var kindResources = map[string]string{
	"Pod":                        "pods",
	"Deployment":                 "deployments",
	"DeploymentConfig":           "deploymentconfigs",
	"ReplicaSet":                 "replicasets",
	"StatefulSet":                "statefulsets",
	"DaemonSet":                  "daemonsets",
	"Job":                        "jobs",
	"CronJob":                    "cronjobs",
	"Service":                    "services",
	"ServiceAccount":             "serviceaccounts",
	"Secret":                     "secrets",
	"ConfigMap":                  "configmaps",
	"PersistentVolumeClaim":      "persistentvolumeclaims",
	"Namespace":                  "namespaces",
	"Role":                       "roles",
	"RoleBinding":                "rolebindings",
	"ClusterRole":                "clusterroles",
	"ClusterRoleBinding":         "clusterrolebindings",
	"NetworkPolicy":              "networkpolicies",
	"Ingress":                    "ingresses",
	"Route":                      "routes",
	"SecurityContextConstraints": "securitycontextconstraints",
}

var clusterScopedKinds = map[string]bool{
	"Namespace":                  true,
	"ClusterRole":                true,
	"ClusterRoleBinding":         true,
	"SecurityContextConstraints": true,
}

// Client is the client-go backed Gateway implementation.
type Client struct {
	dynamic      dynamic.Interface
	typed        kubernetes.Interface
	logger       *log.Logger
	dryRun       bool
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDryRun switches every write to a server-side dry run.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) { c.dryRun = dryRun }
}

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPollInterval overrides the readiness poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient connects using the given kubeconfig path, falling back to
// in-cluster configuration when the path is empty.
func NewClient(kubeconfig string, opts ...Option) (*Client, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
		if err == rest.ErrNotInCluster {
			loading := clientcmd.NewDefaultClientConfigLoadingRules()
			cfg, err = clientcmd.BuildConfigFromFlags("", loading.GetDefaultFilename())
		}
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterConnect, "loading cluster configuration", err).
			WithSuggestion("set --kubeconfig or run inside a cluster")
	}

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterConnect, "creating dynamic client", err)
	}
	typed, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterConnect, "creating typed client", err)
	}

	return NewClientWith(dyn, typed, opts...), nil
}

// NewClientWith wires a Client from pre-built interfaces, used by tests with
// the client-go fakes.
func NewClientWith(dyn dynamic.Interface, typed kubernetes.Interface, opts ...Option) *Client {
	c := &Client{
		dynamic:      dyn,
		typed:        typed,
		logger:       log.Default(),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPolicy returns the named SCC, or nil when it does not exist.
func (c *Client) FetchPolicy(ctx context.Context, name string) (*policy.Configuration, error) {
	obj, err := c.dynamic.Resource(SCCResource).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterFetchFailed, fmt.Sprintf("fetching policy %s", name), err)
	}
	cfg, err := policy.FromUnstructured(obj)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListPolicies returns every SCC in the cluster, sorted by name.
func (c *Client) ListPolicies(ctx context.Context) ([]policy.Configuration, error) {
	list, err := c.dynamic.Resource(SCCResource).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterFetchFailed, "listing policies", err)
	}

	out := make([]policy.Configuration, 0, len(list.Items))
	for i := range list.Items {
		cfg, err := policy.FromUnstructured(&list.Items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out, nil
}

// FetchBindings walks the namespace's RoleBindings and reports which SCCs
// the given service accounts are bound to.
func (c *Client) FetchBindings(ctx context.Context, serviceAccounts []string, namespace string) ([]Binding, error) {
	wanted := map[string]bool{}
	for _, sa := range serviceAccounts {
		wanted[sa] = true
	}

	list, err := c.typed.RbacV1().RoleBindings(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeClusterFetchFailed,
			fmt.Sprintf("listing role bindings in %s", namespace), err)
	}

	var bindings []Binding
	for _, rb := range list.Items {
		if !strings.HasPrefix(rb.RoleRef.Name, RoleNamePrefix) {
			continue
		}
		policyName := strings.TrimPrefix(rb.RoleRef.Name, RoleNamePrefix)
		for _, subject := range rb.Subjects {
			if subject.Kind != "ServiceAccount" || !wanted[subject.Name] {
				continue
			}
			bindings = append(bindings, Binding{
				ServiceAccount: subject.Name,
				Namespace:      namespace,
				PolicyName:     policyName,
			})
		}
	}

	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].PolicyName != bindings[j].PolicyName {
			return bindings[i].PolicyName < bindings[j].PolicyName
		}
		return bindings[i].ServiceAccount < bindings[j].ServiceAccount
	})
	return bindings, nil
}

// ApplyPolicy creates the SCC or updates it in place, carrying the live
// object's resourceVersion through the update.
func (c *Client) ApplyPolicy(ctx context.Context, cfg policy.Configuration) error {
	obj := policy.ToUnstructured(cfg)
	name := cfg.Metadata.Name

	existing, err := c.dynamic.Resource(SCCResource).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = c.dynamic.Resource(SCCResource).Create(ctx, obj, c.createOptions())
		if err != nil {
			return errors.Wrap(errors.ErrCodeClusterApplyFailed, fmt.Sprintf("creating policy %s", name), err)
		}
		c.logger.Info("policy created", "policy", name, "dry_run", c.dryRun)
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeClusterFetchFailed, fmt.Sprintf("fetching policy %s before update", name), err)
	}

	obj.SetResourceVersion(existing.GetResourceVersion())
	_, err = c.dynamic.Resource(SCCResource).Update(ctx, obj, c.updateOptions())
	if err != nil {
		return errors.Wrap(errors.ErrCodeClusterApplyFailed, fmt.Sprintf("updating policy %s", name), err)
	}
	c.logger.Info("policy updated", "policy", name, "dry_run", c.dryRun)
	return nil
}

// ApplyWorkload applies the documents in dependency order, then waits for
// the pod-bearing ones to become ready. Admission rejections end up in the
// result, not in the error.
func (c *Client) ApplyWorkload(ctx context.Context, docs []manifest.Document) (*ApplyResult, error) {
	ordered := OrderDocuments(docs)
	result := &ApplyResult{Succeeded: true}

	for _, doc := range ordered {
		if err := c.applyDocument(ctx, doc); err != nil {
			msg := err.Error()
			result.Succeeded = false
			result.ErrorText = fmt.Sprintf("%s: %s", doc.Locator(), msg)
			c.logger.Warn("workload apply rejected", "resource", doc.Locator(), "error", msg)
			return result, nil
		}
		result.Applied = append(result.Applied, doc.Locator())
	}

	if c.dryRun {
		return result, nil
	}
	return c.waitReady(ctx, docs, result)
}

// WorkloadStatus re-checks readiness without applying anything.
func (c *Client) WorkloadStatus(ctx context.Context, docs []manifest.Document) (*ApplyResult, error) {
	result := &ApplyResult{Succeeded: true}
	for _, doc := range docs {
		if !manifest.IsWorkloadKind(doc.Kind) {
			continue
		}
		ready, msg, err := c.checkReady(ctx, doc)
		if err != nil {
			return nil, err
		}
		if !ready {
			result.Succeeded = false
			result.ErrorText = msg
			return result, nil
		}
	}
	return result, nil
}

func (c *Client) applyDocument(ctx context.Context, doc manifest.Document) error {
	gvr, err := resourceFor(doc)
	if err != nil {
		return err
	}
	obj := &unstructured.Unstructured{Object: doc.Object}

	var ri dynamic.ResourceInterface = c.dynamic.Resource(gvr)
	if !clusterScopedKinds[doc.Kind] {
		ri = c.dynamic.Resource(gvr).Namespace(doc.Namespace)
	}

	existing, err := ri.Get(ctx, doc.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = ri.Create(ctx, obj, c.createOptions())
		return err
	}
	if err != nil {
		return err
	}
	obj.SetResourceVersion(existing.GetResourceVersion())
	_, err = ri.Update(ctx, obj, c.updateOptions())
	return err
}

func (c *Client) waitReady(ctx context.Context, docs []manifest.Document, result *ApplyResult) (*ApplyResult, error) {
	for _, doc := range docs {
		if !manifest.IsWorkloadKind(doc.Kind) {
			continue
		}
		var lastMsg string
		err := wait.PollUntilContextCancel(ctx, c.pollInterval, true, func(ctx context.Context) (bool, error) {
			ready, msg, err := c.checkReady(ctx, doc)
			if err != nil {
				return false, err
			}
			lastMsg = msg
			return ready, nil
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeClusterTimeout,
				fmt.Sprintf("waiting for %s to become ready: %s", doc.Locator(), lastMsg), err)
		}
		result.Succeeded = false
		result.ErrorText = fmt.Sprintf("%s: %s", doc.Locator(), lastMsg)
		return result, nil
	}
	return result, nil
}

// checkReady inspects the live object's status. Pod failures surface the
// admission/runtime message so the advisor sees the raw cluster text.
func (c *Client) checkReady(ctx context.Context, doc manifest.Document) (bool, string, error) {
	gvr, err := resourceFor(doc)
	if err != nil {
		return false, "", err
	}
	obj, err := c.dynamic.Resource(gvr).Namespace(doc.Namespace).Get(ctx, doc.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, fmt.Sprintf("%s not found", doc.Locator()), nil
	}
	if err != nil {
		return false, "", errors.Wrap(errors.ErrCodeClusterFetchFailed,
			fmt.Sprintf("checking status of %s", doc.Locator()), err)
	}

	switch doc.Kind {
	case "Pod":
		phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
		if phase == "Running" || phase == "Succeeded" {
			return true, "", nil
		}
		reason, _, _ := unstructured.NestedString(obj.Object, "status", "reason")
		message, _, _ := unstructured.NestedString(obj.Object, "status", "message")
		return false, strings.TrimSpace(fmt.Sprintf("pod phase %s %s %s", phase, reason, message)), nil

	case "Job":
		succeeded, _, _ := unstructured.NestedInt64(obj.Object, "status", "succeeded")
		if succeeded > 0 {
			return true, "", nil
		}
		return false, "job has no succeeded pods yet", nil

	case "CronJob":
		// Nothing to wait for until the schedule fires.
		return true, "", nil

	default:
		desired, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
		if !found {
			desired = 1
		}
		ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")
		if ready >= desired {
			return true, "", nil
		}
		msg := c.failingPodMessage(ctx, obj, doc)
		if msg == "" {
			msg = fmt.Sprintf("%d/%d replicas ready", ready, desired)
		}
		return false, msg, nil
	}
}

// failingPodMessage pulls the replica failure condition, where admission
// denials for template pods land.
func (c *Client) failingPodMessage(ctx context.Context, obj *unstructured.Unstructured, doc manifest.Document) string {
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, raw := range conditions {
		cond, _ := raw.(map[string]interface{})
		if cond == nil {
			continue
		}
		condType, _ := cond["type"].(string)
		status, _ := cond["status"].(string)
		message, _ := cond["message"].(string)
		if condType == "ReplicaFailure" && status == "True" {
			return message
		}
		if condType == "Progressing" && status == "False" && message != "" {
			return message
		}
	}

	events, err := c.typed.CoreV1().Events(doc.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "type=Warning",
	})
	if err != nil {
		return ""
	}
	for i := len(events.Items) - 1; i >= 0; i-- {
		ev := events.Items[i]
		if IsAdmissionDenied(ev.Message) {
			return ev.Message
		}
	}
	return ""
}

func (c *Client) createOptions() metav1.CreateOptions {
	if c.dryRun {
		return metav1.CreateOptions{DryRun: []string{metav1.DryRunAll}}
	}
	return metav1.CreateOptions{}
}

func (c *Client) updateOptions() metav1.UpdateOptions {
	if c.dryRun {
		return metav1.UpdateOptions{DryRun: []string{metav1.DryRunAll}}
	}
	return metav1.UpdateOptions{}
}

// OrderDocuments sorts documents so dependencies apply first. The sort is
// stable: documents of equal rank keep their manifest order.
func OrderDocuments(docs []manifest.Document) []manifest.Document {
	out := append([]manifest.Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i].Kind) < rankOf(out[j].Kind)
	})
	return out
}

func rankOf(kind string) int {
	if r, ok := applyOrder[kind]; ok {
		return r
	}
	return 9
}

func resourceFor(doc manifest.Document) (schema.GroupVersionResource, error) {
	resource, ok := kindResources[doc.Kind]
	if !ok {
		return schema.GroupVersionResource{}, errors.New(errors.ErrCodeClusterApplyFailed,
			fmt.Sprintf("no resource mapping for kind %s", doc.Kind))
	}
	gv, err := schema.ParseGroupVersion(doc.APIVersion)
	if err != nil {
		return schema.GroupVersionResource{}, errors.Wrap(errors.ErrCodeClusterApplyFailed,
			fmt.Sprintf("invalid apiVersion %q on %s", doc.APIVersion, doc.Locator()), err)
	}
	return gv.WithResource(resource), nil
}
