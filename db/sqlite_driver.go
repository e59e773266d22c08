package db

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mattn/go-sqlite3"
)

// newDriver builds a driver whose connections carry the REGEXP function and
// route every compilation through the engine's authorizer.
func newDriver(e *Engine) *sqlite3.SQLiteDriver {
	return &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Usage: column REGEXP 'pattern'
			if err := conn.RegisterFunc("regexp", regexpMatch, true); err != nil {
				return fmt.Errorf("failed to register regexp: %w", err)
			}
			conn.RegisterAuthorizer(e.authorize)
			return nil
		},
	}
}

// regexpMatch implements the REGEXP operator.
// Returns 1 if text matches pattern, 0 otherwise
func regexpMatch(pattern, text string) (bool, error) {
	return regexp.MatchString(pattern, text)
}

func buildDSN(path string, busyTimeout time.Duration, journalMode string) string {
	if journalMode == "" {
		journalMode = "WAL"
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=%s&_txlock=deferred",
		path, busyTimeout.Milliseconds(), journalMode)
}
