package models

// CertificateStatus is the authority's view of a certificate.
type CertificateStatus string

const (
	CertificatePending   CertificateStatus = "pending"
	CertificateValidated CertificateStatus = "validated"
	CertificateFailed    CertificateStatus = "failed"
)

// Certificate issued for the site. The distribution references it but does not own it.
type Certificate struct {
	Id               string
	Domain           string
	AlternativeNames []string
	ValidationZone   ZoneRef
	Region           string
	Status           CertificateStatus
}

// CertificateRequest is what the authority is asked to issue.
type CertificateRequest struct {
	Domain           string
	AlternativeNames []string
	ValidationZone   ZoneRef
	Region           string
}

// ValidationRecord is a DNS record the authority needs to see before it will issue.
type ValidationRecord struct {
	Name  string
	Type  string
	Value string
}
