package models

import "time"

// DistributionStatus as reported by the CDN.
type DistributionStatus string

const (
	DistributionDeploying DistributionStatus = "deploying"
	DistributionDeployed  DistributionStatus = "deployed"
)

// ErrorFallback rewrites origin errors, the SPA uses it so client side routes resolve to the entry document.
type ErrorFallback struct {
	MatchStatus   int
	CacheTtl      time.Duration
	RewriteTo     string
	RespondStatus int
}

// DistributionRef is the stable identity of a distribution.
type DistributionRef struct {
	Id         string
	Arn        string
	DomainName string
}

// DistributionConfig is everything the CDN needs to create or update a distribution.
type DistributionConfig struct {
	Certificate            Certificate
	Origins                []OriginRule
	Fallback               ErrorFallback
	DomainAliases          []string
	RootObject             string
	MinimumProtocolVersion string
	PriceClass             string
}

// Distribution owns its rules and fallback by value.
type Distribution struct {
	DistributionRef
	Certificate   Certificate
	Origins       []OriginRule
	Fallback      ErrorFallback
	DomainAliases []string
	Status        DistributionStatus
}

// AliasTarget is the provider-managed endpoint an alias record resolves to.
type AliasTarget struct {
	DNSName      string
	HostedZoneId string
}

// AliasRecord binds the site name to a distribution.
type AliasRecord struct {
	Name   string
	Zone   ZoneRef
	Target DistributionRef
}
