package fakes

import (
	"context"

	"github.com/18f/site-pipeline/models"
	"github.com/stretchr/testify/mock"
)

type MockZoneLookup struct {
	mock.Mock
}

func (m *MockZoneLookup) FindZone(ctx context.Context, domain string) (models.ZoneRef, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(models.ZoneRef), args.Error(1)
}

type MockCertificateAuthority struct {
	mock.Mock
}

func (m *MockCertificateAuthority) FindCertificate(ctx context.Context, domain string, alternativeNames []string, region string) (string, bool, error) {
	args := m.Called(ctx, domain, alternativeNames, region)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCertificateAuthority) RequestCertificate(ctx context.Context, request models.CertificateRequest) (string, error) {
	args := m.Called(ctx, request)
	return args.String(0), args.Error(1)
}

func (m *MockCertificateAuthority) CertificateStatus(ctx context.Context, handle string) (models.CertificateStatus, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(models.CertificateStatus), args.Error(1)
}

func (m *MockCertificateAuthority) ValidationRecords(ctx context.Context, handle string) ([]models.ValidationRecord, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).([]models.ValidationRecord), args.Error(1)
}

type MockCDNProvider struct {
	mock.Mock
}

func (m *MockCDNProvider) ApplyDistribution(ctx context.Context, config models.DistributionConfig) (models.DistributionRef, error) {
	args := m.Called(ctx, config)
	return args.Get(0).(models.DistributionRef), args.Error(1)
}

func (m *MockCDNProvider) DistributionStatus(ctx context.Context, id string) (models.DistributionStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.DistributionStatus), args.Error(1)
}

func (m *MockCDNProvider) Invalidate(ctx context.Context, id string, paths []string) (string, error) {
	args := m.Called(ctx, id, paths)
	return args.String(0), args.Error(1)
}

type MockDNSProvider struct {
	mock.Mock
}

func (m *MockDNSProvider) UpsertAliasRecord(ctx context.Context, zone models.ZoneRef, name string, target models.AliasTarget) error {
	return m.Called(ctx, zone, name, target).Error(0)
}

func (m *MockDNSProvider) UpsertValidationRecord(ctx context.Context, zone models.ZoneRef, record models.ValidationRecord) error {
	return m.Called(ctx, zone, record).Error(0)
}
