package managers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/miekg/dns"
)

type PropagationCheckerSettings struct {
	// Resolver name to host:port.
	Resolvers map[string]string

	// Consecutive checks every resolver must pass. Defaults to sitepipeline.GoodResolutionCount.
	GoodResolutionCount int

	Timeout time.Duration
	Logger  lager.Logger
}

// PropagationChecker watches validation records on a set of public resolvers. The authority's own resolvers
// are not always the first to see a record, so a record only counts once every resolver has agreed on it
// several times in a row.
type PropagationChecker struct {
	client            *dns.Client
	goodResolutionMap map[string]int
	logger            lager.Logger
	mu                sync.Mutex
	required          int
	resolvers         map[string]string
}

func NewPropagationChecker(settings *PropagationCheckerSettings) *PropagationChecker {
	required := settings.GoodResolutionCount
	if required <= 0 {
		required = sitepipeline.GoodResolutionCount
	}
	timeout := settings.Timeout
	if timeout == 0 {
		timeout = time.Second * 5
	}

	return &PropagationChecker{
		client:            &dns.Client{Timeout: timeout},
		goodResolutionMap: make(map[string]int),
		logger:            settings.Logger.Session("propagation-checker"),
		required:          required,
		resolvers:         settings.Resolvers,
	}
}

// Propagated reports whether every record resolves stably everywhere. With no resolvers configured there is
// nothing to check.
func (p *PropagationChecker) Propagated(ctx context.Context, records []models.ValidationRecord) bool {
	if p == nil || len(p.resolvers) == 0 {
		return true
	}

	all := true
	for idx := range records {
		if !p.check(ctx, records[idx]) {
			all = false
		}
	}
	return all
}

func (p *PropagationChecker) check(ctx context.Context, record models.ValidationRecord) bool {
	fqdn := dns01.ToFqdn(strings.ToLower(record.Name))
	value := dns01.ToFqdn(strings.ToLower(record.Value))

	lsession := p.logger.Session("dns-pre-check", lager.Data{
		"fqdn":  fqdn,
		"value": value,
	})

	var goodResolvers int
	for localProvider, localAddress := range p.resolvers {
		llsession := lsession.Session("provider-check", lager.Data{
			"target": localProvider,
			"host":   localAddress,
		})

		msg := &dns.Msg{}
		msg.SetQuestion(fqdn, dns.TypeCNAME)

		reply, _, err := p.client.ExchangeContext(ctx, msg, localAddress)
		if err != nil {
			llsession.Error("dns-exchange-error", err)
			continue
		}

		// nil check, skip if not resolving.
		if len(reply.Answer) == 0 {
			llsession.Debug("no-answer-from-dns")
			continue
		}

		for idx := range reply.Answer {
			if c, ok := reply.Answer[idx].(*dns.CNAME); ok && strings.EqualFold(c.Target, value) {
				llsession.Debug("found-target-cname-record")
				goodResolvers++
				break
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lsession.Debug("resolver-state-check-complete", lager.Data{
		"global-resolver-state": fmt.Sprintf("%d/%d", goodResolvers, len(p.resolvers)),
	})

	if goodResolvers < len(p.resolvers) {
		lsession.Info("not-all-resolvers-found-record")
		p.goodResolutionMap[fqdn] = 0
		return false
	}

	p.goodResolutionMap[fqdn]++
	if p.goodResolutionMap[fqdn] >= p.required {
		lsession.Info("stable-dns-resolution")
		return true
	}

	lsession.Info("testing-dns-resolution-stability")
	return false
}
