package server

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	core "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
)

// AnnotationExternalServerName marks a Service as routable by this gateway.
// Its value lists the external hostnames clients use, split by comma or
// newline.
const AnnotationExternalServerName = "mc-gateway.io/external-server-name"

type IK8sWatcher interface {
	WithNamespace(namespace string) IK8sWatcher
	StartWithConfig(kubeConfigFile string) error
	StartInCluster() error
	Stop()
}

var K8sWatcher IK8sWatcher = &k8sWatcherImpl{namespace: core.NamespaceAll}

type k8sWatcherImpl struct {
	namespace string

	clientset *kubernetes.Clientset
	stop      chan struct{}
}

func (w *k8sWatcherImpl) WithNamespace(namespace string) IK8sWatcher {
	w.namespace = namespace
	return w
}

func (w *k8sWatcherImpl) StartInCluster() error {
	config, err := rest.InClusterConfig()
	if err != nil {
		return errors.Wrap(err, "Unable to load in-cluster config")
	}

	return w.startWithLoadedConfig(config)
}

func (w *k8sWatcherImpl) StartWithConfig(kubeConfigFile string) error {
	config, err := clientcmd.BuildConfigFromFlags("", kubeConfigFile)
	if err != nil {
		return errors.Wrap(err, "Could not load kube config file")
	}

	return w.startWithLoadedConfig(config)
}

func (w *k8sWatcherImpl) startWithLoadedConfig(config *rest.Config) error {
	w.stop = make(chan struct{}, 1)

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return errors.Wrap(err, "Could not create kube clientset")
	}
	w.clientset = clientset

	_, serviceController := cache.NewInformer(
		cache.NewListWatchFromClient(
			clientset.CoreV1().RESTClient(),
			string(core.ResourceServices),
			w.namespace,
			fields.Everything(),
		),
		&core.Service{},
		0,
		cache.ResourceEventHandlerFuncs{
			AddFunc:    w.handleAdd,
			DeleteFunc: w.handleDelete,
			UpdateFunc: w.handleUpdate,
		},
	)
	go serviceController.Run(w.stop)

	logrus.Info("Monitoring Kubernetes for Minecraft services")
	return nil
}

// oldObj and newObj are expected to be *v1.Service
func (w *k8sWatcherImpl) handleUpdate(oldObj interface{}, newObj interface{}) {
	for _, oldEndpoint := range endpointsFromService(oldObj) {
		logrus.WithField("old", oldEndpoint).Debug("UPDATE")
		Routes.DeleteEndpoint(oldEndpoint.Hostname)
	}

	for _, newEndpoint := range endpointsFromService(newObj) {
		logrus.WithField("new", newEndpoint).Debug("UPDATE")
		Routes.CreateEndpoint(newEndpoint)
	}
}

// obj is expected to be a *v1.Service
func (w *k8sWatcherImpl) handleDelete(obj interface{}) {
	for _, endpoint := range endpointsFromService(obj) {
		logrus.WithField("endpoint", endpoint).Debug("DELETE")
		Routes.DeleteEndpoint(endpoint.Hostname)
	}
}

// obj is expected to be a *v1.Service
func (w *k8sWatcherImpl) handleAdd(obj interface{}) {
	for _, endpoint := range endpointsFromService(obj) {
		logrus.WithField("endpoint", endpoint).Debug("ADD")
		Routes.CreateEndpoint(endpoint)
	}
}

func (w *k8sWatcherImpl) Stop() {
	if w.stop != nil {
		close(w.stop)
	}
}

// endpointsFromService derives gateway endpoints from an annotated Service.
// obj is expected to be a *v1.Service; anything else yields nil.
func endpointsFromService(obj interface{}) []Endpoint {
	service, ok := obj.(*core.Service)
	if !ok {
		return nil
	}

	annotation, exists := service.Annotations[AnnotationExternalServerName]
	if !exists {
		return nil
	}

	clusterIp := service.Spec.ClusterIP
	port := "25565"
	for _, p := range service.Spec.Ports {
		if p.Name == "mc-gateway" || p.Name == "minecraft" {
			port = strconv.Itoa(int(p.Port))
		}
	}
	origin := net.JoinHostPort(clusterIp, port)

	hostnames := SplitExternalHosts(annotation)
	endpoints := make([]Endpoint, 0, len(hostnames))
	for _, hostname := range hostnames {
		endpoints = append(endpoints, Endpoint{
			Hostname: hostname,
			Origin:   origin,
		})
	}
	return endpoints
}
