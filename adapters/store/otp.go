package store

import (
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/internal/cryptox"
)

// settle decides what one verification attempt does to a pending record.
// A nil next means the record is removed.
func settle(rec core.OtpRecord, code string, now time.Time, maxAttempts int) (next *core.OtpRecord, err error) {
	if rec.Expired(now) {
		return nil, core.ErrOtpExpired
	}
	// Records carrying a spent budget are treated as gone
	if maxAttempts > 0 && rec.Attempts >= maxAttempts {
		return nil, core.ErrOtpNotFound
	}

	if cryptox.EqualConstantTime(rec.Code, code) {
		return nil, nil
	}

	rec.Attempts++
	if maxAttempts > 0 && rec.Attempts >= maxAttempts {
		return nil, core.ErrOtpMismatch
	}
	return &rec, core.ErrOtpMismatch
}
