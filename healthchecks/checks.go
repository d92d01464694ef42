package healthchecks

import (
	"context"
	"sort"

	"code.cloudfoundry.org/lager/v3"
	"go.uber.org/multierr"
)

type Check func(ctx context.Context) error

// Run every check, logging each result, and return all the failures together.
func Run(ctx context.Context, logger lager.Logger, checks map[string]Check) error {
	lsession := logger.Session("healthchecks")

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			lsession.Error("check-failed", err, lager.Data{"check": name})
			errs = multierr.Append(errs, err)
			continue
		}
		lsession.Info("check-passed", lager.Data{"check": name})
	}
	return errs
}
