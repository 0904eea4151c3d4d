package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrEntityAlreadyExists indicates a unique index rejected a write.
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// ErrTransactionConflict indicates a concurrent transaction touched the
	// same records. The write can be retried.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// queryErrors maps fragments of SurrealDB query error messages to sentinels.
var queryErrors = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrEntityAlreadyExists},
	{"already contains", ErrEntityAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
}

// wrapQueryError attaches a sentinel to known query errors so callers can use
// errors.Is. Other errors pass through.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	for _, m := range queryErrors {
		if strings.Contains(qe.Message, m.fragment) {
			return fmt.Errorf("%w: %s", m.sentinel, qe.Message)
		}
	}
	return err
}
