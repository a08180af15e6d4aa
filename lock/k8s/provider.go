package k8s

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/lock"
)

// Compile-time check that Provider implements lock.Store.
var _ lock.Store = (*Provider)(nil)

const (
	defaultLeasePrefix      = "tenantrun-"
	defaultAnnotationPrefix = "tenantrun.xraph.com/"

	// Lease names are DNS subdomains; keep well under the 253 limit.
	maxLeaseNameLen = 63
)

// Provider implements lock.Store on the coordination/v1 Lease API.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leasePrefix      string
	annotationPrefix string
	logger           *slog.Logger
	now              func() time.Time
}

// New creates a Kubernetes lock provider.
// The clientset and namespace are required. Use functional options to
// customise the lease prefix, annotation prefix, clock or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leasePrefix:      defaultLeasePrefix,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AcquireLock creates the job's Lease, or takes over one that has expired.
// Updates carry the observed resourceVersion, so of two instances racing
// for an expired Lease the API server lets exactly one through.
func (p *Provider) AcquireLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)
	name := p.leaseName(jobName)
	now := p.now().UTC()

	obj, err := leases.Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		obj = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: p.namespace,
			},
		}
		p.stamp(obj, jobName, holderID, now, lease, true)

		_, createErr := leases.Create(ctx, obj, metav1.CreateOptions{})
		if createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				return false, nil // race: someone else created it first
			}
			return false, fmt.Errorf("k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: get lease: %w", err)
	}

	if !p.expired(obj, now) {
		return false, nil
	}

	p.stamp(obj, jobName, holderID, now, lease, true)
	_, err = leases.Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	p.logger.Debug("took over expired lease", slog.String("job", jobName), slog.String("lease", name))
	return true, nil
}

// RenewLock extends the Lease if holderID still holds it.
func (p *Provider) RenewLock(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)

	obj, err := leases.Get(ctx, p.leaseName(jobName), metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew get lease: %w", err)
	}
	if holder(obj) != holderID {
		return false, nil
	}

	p.stamp(obj, jobName, holderID, p.now().UTC(), lease, false)
	_, err = leases.Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew update lease: %w", err)
	}
	return true, nil
}

// ReleaseLock deletes the Lease if holderID holds it. The delete is
// preconditioned on the observed resourceVersion so a Lease reclaimed in
// between is left alone.
func (p *Provider) ReleaseLock(ctx context.Context, jobName, holderID string) error {
	leases := p.client.CoordinationV1().Leases(p.namespace)

	obj, err := leases.Get(ctx, p.leaseName(jobName), metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("k8s: release get lease: %w", err)
	}
	if holder(obj) != holderID {
		return nil
	}

	rv := obj.ResourceVersion
	err = leases.Delete(ctx, obj.Name, metav1.DeleteOptions{
		Preconditions: &metav1.Preconditions{ResourceVersion: &rv},
	})
	if err != nil && !errors.IsNotFound(err) && !errors.IsConflict(err) {
		return fmt.Errorf("k8s: release delete lease: %w", err)
	}
	return nil
}

// GetLock returns the live lock for jobName.
func (p *Provider) GetLock(ctx context.Context, jobName string) (*lock.Lock, error) {
	obj, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName(jobName), metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, tenantrun.ErrLockNotFound
		}
		return nil, fmt.Errorf("k8s: get lease: %w", err)
	}
	if p.expired(obj, p.now().UTC()) {
		return nil, tenantrun.ErrLockNotFound
	}

	l := &lock.Lock{
		JobName:   jobName,
		HolderID:  holder(obj),
		ExpiresAt: p.expiresAt(obj),
	}
	if obj.Spec.AcquireTime != nil {
		l.AcquiredAt = obj.Spec.AcquireTime.UTC()
	}
	return l, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// stamp writes holder and lease timing onto obj.
func (p *Provider) stamp(obj *coordinationv1.Lease, jobName, holderID string, now time.Time, lease time.Duration, acquire bool) {
	mt := metav1.NewMicroTime(now)
	secs := int32(math.Ceil(lease.Seconds()))

	obj.Spec.HolderIdentity = &holderID
	obj.Spec.LeaseDurationSeconds = &secs
	obj.Spec.RenewTime = &mt
	if acquire || obj.Spec.AcquireTime == nil {
		obj.Spec.AcquireTime = &mt
	}

	if obj.Annotations == nil {
		obj.Annotations = make(map[string]string)
	}
	obj.Annotations[p.annotationPrefix+"job"] = jobName
	obj.Annotations[p.annotationPrefix+"expires-at"] = now.Add(lease).Format(time.RFC3339Nano)
}

// expiresAt reads the precise lease end, falling back to renew time plus
// the whole-second duration for Leases written by other tools.
func (p *Provider) expiresAt(obj *coordinationv1.Lease) time.Time {
	if v := obj.Annotations[p.annotationPrefix+"expires-at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	if obj.Spec.RenewTime == nil || obj.Spec.LeaseDurationSeconds == nil {
		return time.Time{}
	}
	dur := time.Duration(*obj.Spec.LeaseDurationSeconds) * time.Second
	return obj.Spec.RenewTime.Add(dur).UTC()
}

// expired reports whether the Lease is free at now.
func (p *Provider) expired(obj *coordinationv1.Lease, now time.Time) bool {
	if holder(obj) == "" {
		return true
	}
	return !now.Before(p.expiresAt(obj))
}

func holder(obj *coordinationv1.Lease) string {
	if obj.Spec.HolderIdentity == nil {
		return ""
	}
	return *obj.Spec.HolderIdentity
}

// leaseName maps a job name onto a valid object name. Characters outside
// [a-z0-9-] become '-', and a hash of the original name keeps distinct
// jobs from colliding after that folding.
func (p *Provider) leaseName(jobName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(jobName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(jobName))
	suffix := fmt.Sprintf("-%08x", h.Sum32())

	base := strings.Trim(b.String(), "-")
	if limit := maxLeaseNameLen - len(p.leasePrefix) - len(suffix); len(base) > limit {
		base = strings.TrimRight(base[:max(limit, 0)], "-")
	}
	return p.leasePrefix + base + suffix
}
