// Package runlock serializes export runs that target the same database file.
package runlock

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mutex/v2"
)

var logger = loggo.GetLogger("votexport.runlock")

// ErrTimeout is returned when another run kept the lock past the timeout.
const ErrTimeout = errors.ConstError("run lock timeout")

// Releaser frees an acquired lock.
type Releaser interface {
	Release()
}

// Name derives the machine-wide mutex name for a database path.
func Name(dbPath string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", errors.Trace(err)
	}
	sum := sha256.Sum256([]byte(abs))
	return "votexport-" + hex.EncodeToString(sum[:])[:16], nil
}

// Acquire blocks until no other process holds the lock for dbPath or the
// timeout expires.
func Acquire(dbPath string, timeout time.Duration, cancel <-chan struct{}) (Releaser, error) {
	name, err := Name(dbPath)
	if err != nil {
		return nil, errors.Trace(err)
	}

	logger.Debugf("acquiring %s for %s", name, dbPath)
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    name,
		Clock:   clock.WallClock,
		Delay:   250 * time.Millisecond,
		Timeout: timeout,
		Cancel:  cancel,
	})
	switch {
	case errors.Is(err, mutex.ErrTimeout):
		return nil, errors.Annotatef(ErrTimeout, "another export holds %s", dbPath)
	case err != nil:
		return nil, errors.Annotatef(err, "locking %s", dbPath)
	}
	return releaser, nil
}
