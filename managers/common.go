package managers

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

var errNotYet = errors.New("not yet")

// waitFor polls check until it reports done, fails, or timeout elapses. A timeout comes back as errNotYet so
// callers can turn it into their own timing error.
func waitFor(ctx context.Context, logger lager.Logger, interval, timeout time.Duration, check func() (bool, error)) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(interval),
		backoff.WithMaxInterval(interval*4),
		backoff.WithMaxElapsedTime(timeout),
	)

	op := func() error {
		done, err := check()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errNotYet
		}
		return nil
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Debug("waiting", lager.Data{
			"next-check": next.String(),
		})
	})
}

// dbLogger sends gorm's query log through lager.
type dbLogger struct {
	logger lager.Logger
}

func (d dbLogger) Print(v ...interface{}) {
	d.logger.Debug("query", lager.Data{
		"statement": fmt.Sprint(v...),
	})
}
