// Package k8s provides a Kubernetes-native lock.Store implementation.
//
// Each job's lock is a coordination/v1 Lease object in one namespace. The
// holder identity is the run's holder ID and the lease end is kept in an
// annotation with sub-second precision, since LeaseDurationSeconds only
// counts whole seconds.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	locks := k8s.New(client, "my-namespace")
//	eng, _ := engine.New(store, engine.WithLockStore(locks), ...)
package k8s
