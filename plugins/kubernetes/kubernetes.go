// Package kubernetes implements the Kubernetes collector: an
// entityd_emit_entities plugin reporting every Pod in the cluster (or a
// configured namespace) as a Kubernetes:Pod entity, parented to a
// synthetic Kubernetes:Node entity for the pod's assigned node.
//
// Grounded on k8s-agent/main.go's createKubernetesClient (in-cluster
// config, falling back to a kubeconfig path for local development) and
// k8s-agent's use of corev1 pod phases/conditions.
package kubernetes

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/cobeio/entityd-sub000/internal/entity"
)

const (
	podType  = "Kubernetes:Pod"
	nodeType = "Kubernetes:Node"
)

// Plugin implements hookspec.EntityEmitter for Kubernetes pods.
type Plugin struct {
	client    kubernetes.Interface
	namespace string
}

// New creates a Kubernetes collector. namespace of "" watches every
// namespace. kubeconfigPath of "" uses in-cluster config. A client that
// cannot be constructed (no cluster reachable) yields a no-op plugin,
// matching the other collectors' "absent backend, empty cycle" behaviour.
func New(kubeconfigPath, namespace string) *Plugin {
	client, err := newClientset(kubeconfigPath)
	if err != nil {
		return &Plugin{namespace: namespace}
	}
	return &Plugin{client: client, namespace: namespace}
}

func newClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error
	if kubeconfigPath != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restConfig)
}

// EmitEntities lists pods in the configured namespace (or every namespace)
// and returns one Kubernetes:Pod update per pod.
func (p *Plugin) EmitEntities() ([]*entity.Update, error) {
	if p.client == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, nil
	}

	updates := make([]*entity.Update, 0, len(pods.Items))
	for _, pod := range pods.Items {
		u := entity.New(podType)
		u.Attrs().Set("uid", string(pod.UID), entity.TraitID)
		u.SetLabel(pod.Name)
		u.Attrs().Set("name", pod.Name)
		u.Attrs().Set("namespace", pod.Namespace)
		u.Attrs().Set("phase", string(pod.Status.Phase))
		u.Attrs().Set("ready", podReady(pod))
		if pod.Spec.NodeName != "" {
			u.Parents().AddUEID(nodeUEID(pod.Spec.NodeName))
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func podReady(pod corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func nodeUEID(name string) entity.UEID {
	u := entity.New(nodeType)
	u.Attrs().Set("name", name, entity.TraitID)
	return u.UEID()
}
