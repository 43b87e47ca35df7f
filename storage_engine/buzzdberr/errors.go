// Package buzzdberr defines the sentinel errors used across the
// storage engine so callers and tests can classify failures with
// errors.Is instead of string matching.
package buzzdberr

import "github.com/pkg/errors"

var (
	// ErrInvalidPage is returned by FixPage for the invalid page id
	// sentinel (fatal misuse).
	ErrInvalidPage = errors.New("buzzdb: invalid page id")

	// ErrBufferFull is returned when fix_page needs a new frame but
	// the pool is already at capacity with distinct resident pages.
	ErrBufferFull = errors.New("buzzdb: buffer pool full")

	// ErrUnknownTxn is returned for any operation against a
	// transaction id the transaction manager does not recognize.
	ErrUnknownTxn = errors.New("buzzdb: unknown transaction id")

	// ErrRecordTooLarge is returned when a record does not fit in a
	// page's free space (no compaction is attempted).
	ErrRecordTooLarge = errors.New("buzzdb: record larger than page free space")

	// ErrShortBuffer is returned by HeapSegment.Read when the
	// caller's buffer is smaller than the stored record.
	ErrShortBuffer = errors.New("buzzdb: read buffer shorter than record")

	// ErrRecoveryInconsistent marks a truncated or unrecognized log
	// record encountered during recovery.
	ErrRecoveryInconsistent = errors.New("buzzdb: log inconsistent at recovery time")

	// ErrNeverFixed is returned by UnfixPage for a frame that was
	// never fixed.
	ErrNeverFixed = errors.New("buzzdb: unfix of a frame that was never fixed")
)
