// Package repository implements MySQL persistence for the booking engine.
// Every table gets its own Repo type; Store embeds them all and adds
// transaction handling so that the engine packages can depend on one value.
//
// The sentinel errors below are shared with the in-memory store so that
// callers can test for them with errors.Is regardless of the backend.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.  Handlers translate
// it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique key.  The
// engine relies on it to detect lost races on idempotency keys.
var ErrDuplicate = errors.New("duplicate key")

// MySQL server error numbers the repository reacts to.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func mysqlErrNo(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if mysqlErrNo(err) == errDupEntry {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// retryable reports whether a transaction failed only because InnoDB chose
// it as a deadlock victim or it waited too long for a lock.
func retryable(err error) bool {
	switch mysqlErrNo(err) {
	case errDeadlock, errLockWaitTimeout:
		return true
	}
	return false
}
