// Package repository implements the MySQL-backed collaborators of the
// admission controller: the event catalog, the booking ledger and the
// user/token stores.  Domain rejections are reported with the typed
// errors from the booking package so handlers never inspect SQL state.
package repository

import (
	"errors"
	"strings"
)

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports whether err is a MySQL duplicate-key violation
// (error 1062).  The driver does not expose a stable sentinel, so the
// code is matched in the message.
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
