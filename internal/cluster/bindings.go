package cluster

import (
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/sccpilot/sccpilot/internal/manifest"
)

// BuildRoleBindings produces one RoleBinding per namespace, binding the
// workload's service accounts to the SCC's cluster role.
func BuildRoleBindings(policyName string, accounts []manifest.ServiceAccount) []*rbacv1.RoleBinding {
	byNamespace := map[string][]rbacv1.Subject{}
	var order []string

	for _, sa := range accounts {
		ns := sa.Namespace
		if ns == "" {
			ns = "default"
		}
		if _, seen := byNamespace[ns]; !seen {
			order = append(order, ns)
		}
		byNamespace[ns] = append(byNamespace[ns], rbacv1.Subject{
			Kind:      "ServiceAccount",
			Name:      sa.Name,
			Namespace: ns,
		})
	}

	out := make([]*rbacv1.RoleBinding, 0, len(order))
	for _, ns := range order {
		out = append(out, &rbacv1.RoleBinding{
			TypeMeta: metav1.TypeMeta{
				APIVersion: "rbac.authorization.k8s.io/v1",
				Kind:       "RoleBinding",
			},
			ObjectMeta: metav1.ObjectMeta{
				Name:      policyName + "-binding",
				Namespace: ns,
			},
			Subjects: byNamespace[ns],
			RoleRef: rbacv1.RoleRef{
				APIGroup: "rbac.authorization.k8s.io",
				Kind:     "ClusterRole",
				Name:     RoleNamePrefix + policyName,
			},
		})
	}
	return out
}
