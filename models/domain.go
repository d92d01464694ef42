package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DomainSpec is the input for a single site deploy.
type DomainSpec struct {
	// The apex domain the site is served from, it must have a public hosted zone.
	ApexDomain string `validate:"required,fqdn"`

	// Hostname of the API that sits behind the backend path prefix.
	BackendHostname string `validate:"required,hostname_rfc1123"`
}

// Validate checks both hostnames are present and well formed.
func (d DomainSpec) Validate() error {
	return validate.Struct(d)
}

// ZoneRef is a handle to a managed DNS zone.
type ZoneRef struct {
	Id string

	// Zone name without the trailing dot.
	Name string
}

// ValidateApexDomain checks a single domain the way DomainSpec checks its apex.
func ValidateApexDomain(domain string) error {
	return validate.Var(domain, "required,fqdn")
}
