package interfaces

import (
	"context"
	"errors"

	"github.com/18f/site-pipeline/models"
)

// ErrInvalidCertificateRequest is returned when the authority rejects the request as malformed.
var ErrInvalidCertificateRequest = errors.New("invalid certificate request")

// CertificateAuthority issues certificates validated over DNS.
type CertificateAuthority interface {
	// FindCertificate returns an existing, usable certificate covering exactly the requested names.
	FindCertificate(ctx context.Context, domain string, alternativeNames []string, region string) (string, bool, error)
	RequestCertificate(ctx context.Context, request models.CertificateRequest) (string, error)
	CertificateStatus(ctx context.Context, handle string) (models.CertificateStatus, error)

	// ValidationRecords can be empty for a short while after the request is made.
	ValidationRecords(ctx context.Context, handle string) ([]models.ValidationRecord, error)
}
