package job

import "github.com/domonda/go-errs"

const (
	ErrDuplicateID        errs.Sentinel = "job id already exists"
	ErrNotFound           errs.Sentinel = "job not found"
	ErrNotDead            errs.Sentinel = "job is not in the dead letter queue"
	ErrInvalidJob         errs.Sentinel = "invalid job"
	ErrInvalidState       errs.Sentinel = "invalid job state"
	ErrStorageUnavailable errs.Sentinel = "job storage unavailable"
	ErrLockTimeout        errs.Sentinel = "timed out waiting for the job store lock"
)
