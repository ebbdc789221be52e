// Package sentinel holds storage facts that callers branch on with errors.Is.
package sentinel

import "errors"

// ErrConflict means the row being written already exists. History stores
// return it for a message position that was already recorded, so a
// redelivered message is recognised as a duplicate instead of a failure.
var ErrConflict = errors.New("conflict")
