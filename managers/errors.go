package managers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrorKind tells callers whether re-running makes sense.
type ErrorKind string

const (
	// Fatal, the operator has to fix the input.
	ConfigurationError ErrorKind = "configuration"
	// Retryable by re-invoking the same step.
	TimingError ErrorKind = "timing"
	// Some work landed, some didn't.
	PartialFailureError ErrorKind = "partial"
)

// Component names, every error belongs to exactly one.
const (
	ZoneResolverComponent            = "zone-resolver"
	CertificateProvisionerComponent  = "certificate-provisioner"
	OriginBuilderComponent           = "origin-builder"
	DistributionProvisionerComponent = "distribution-provisioner"
	AliasBinderComponent             = "alias-binder"
	ContentPublisherComponent        = "content-publisher"
	ReporterComponent                = "reporter"
)

// PipelineError is implemented by every error a pipeline component returns.
type PipelineError interface {
	error
	Component() string
	Kind() ErrorKind
}

// IsRetryable reports whether err is a timing error, anywhere in its chain.
func IsRetryable(err error) bool {
	var perr PipelineError
	if errors.As(err, &perr) {
		return perr.Kind() == TimingError
	}
	return false
}

// ComponentOf returns the component that owns err, or an empty string.
func ComponentOf(err error) string {
	var perr PipelineError
	if errors.As(err, &perr) {
		return perr.Component()
	}
	return ""
}

type ZoneNotFoundError struct {
	Domain string
}

func (e *ZoneNotFoundError) Error() string {
	return fmt.Sprintf("no managed zone found for %s, the zone must exist before deploying", e.Domain)
}
func (e *ZoneNotFoundError) Component() string { return ZoneResolverComponent }
func (e *ZoneNotFoundError) Kind() ErrorKind   { return ConfigurationError }

type CertificateRequestError struct {
	Domain string
	Reason string
	Err    error
}

func (e *CertificateRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate request for %s failed: %s: %s", e.Domain, e.Reason, e.Err)
	}
	return fmt.Sprintf("certificate request for %s failed: %s", e.Domain, e.Reason)
}
func (e *CertificateRequestError) Unwrap() error     { return e.Err }
func (e *CertificateRequestError) Component() string { return CertificateProvisionerComponent }
func (e *CertificateRequestError) Kind() ErrorKind   { return ConfigurationError }

type CertificateValidationTimeoutError struct {
	CertificateId string
	Waited        time.Duration

	// Whether the validation records were seen on every resolver before time ran out.
	Propagated bool
}

func (e *CertificateValidationTimeoutError) Error() string {
	if !e.Propagated {
		return fmt.Sprintf("validation records for certificate %s were not observed as propagated after %s", e.CertificateId, e.Waited)
	}
	return fmt.Sprintf("certificate %s was not validated after %s", e.CertificateId, e.Waited)
}
func (e *CertificateValidationTimeoutError) Component() string { return CertificateProvisionerComponent }
func (e *CertificateValidationTimeoutError) Kind() ErrorKind   { return TimingError }

type InvalidOriginError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidOriginError) Error() string {
	return fmt.Sprintf("invalid origin %s %q: %s", e.Field, e.Value, e.Reason)
}
func (e *InvalidOriginError) Component() string { return OriginBuilderComponent }
func (e *InvalidOriginError) Kind() ErrorKind   { return ConfigurationError }

type CertificateNotReadyError struct {
	CertificateId string
	Status        string
}

func (e *CertificateNotReadyError) Error() string {
	return fmt.Sprintf("certificate %s is %s, it must be validated before the distribution is created", e.CertificateId, e.Status)
}
func (e *CertificateNotReadyError) Component() string { return DistributionProvisionerComponent }
func (e *CertificateNotReadyError) Kind() ErrorKind   { return TimingError }

type DistributionConfigError struct {
	Reason string
}

func (e *DistributionConfigError) Error() string {
	return fmt.Sprintf("invalid distribution config: %s", e.Reason)
}
func (e *DistributionConfigError) Component() string { return DistributionProvisionerComponent }
func (e *DistributionConfigError) Kind() ErrorKind   { return ConfigurationError }

type DistributionNotReadyError struct {
	DistributionId string
	Status         string

	// Defaults to the alias binder.
	Owner string
}

func (e *DistributionNotReadyError) Error() string {
	return fmt.Sprintf("distribution %s is %s, not deployed", e.DistributionId, e.Status)
}
func (e *DistributionNotReadyError) Component() string {
	if e.Owner != "" {
		return e.Owner
	}
	return AliasBinderComponent
}
func (e *DistributionNotReadyError) Kind() ErrorKind { return TimingError }

// PublishError lists what made it into the bucket and what didn't. Nothing is rolled back, so Pending holds
// the paths the uploaded changes still need invalidated.
type PublishError struct {
	Bucket   string
	Uploaded []string
	Failed   map[string]error
	Pending  []string
}

func (e *PublishError) Error() string {
	keys := lo.Keys(e.Failed)
	sort.Strings(keys)
	return fmt.Sprintf("failed to upload %d of %d objects to %s: %s",
		len(e.Failed), len(e.Failed)+len(e.Uploaded), e.Bucket, strings.Join(keys, ", "))
}
func (e *PublishError) Component() string { return ContentPublisherComponent }
func (e *PublishError) Kind() ErrorKind   { return PartialFailureError }

// InvalidationError is reported on its own so the invalidation can be re-triggered without a redeploy.
type InvalidationError struct {
	DistributionId string
	Paths          []string
	Err            error
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("invalidation of %s on distribution %s was rejected: %s",
		strings.Join(e.Paths, ","), e.DistributionId, e.Err)
}
func (e *InvalidationError) Unwrap() error     { return e.Err }
func (e *InvalidationError) Component() string { return ContentPublisherComponent }
func (e *InvalidationError) Kind() ErrorKind   { return PartialFailureError }

// ProviderError wraps a provider failure that has no more specific type. Re-running is safe.
type ProviderError struct {
	Owner string
	Op    string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Owner, e.Op, e.Err)
}
func (e *ProviderError) Unwrap() error     { return e.Err }
func (e *ProviderError) Component() string { return e.Owner }
func (e *ProviderError) Kind() ErrorKind   { return TimingError }

func providerError(component, op string, err error) error {
	return &ProviderError{Owner: component, Op: op, Err: errors.WithStack(err)}
}
