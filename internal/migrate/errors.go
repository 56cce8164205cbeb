package migrate

import "errors"

var (
	// ErrUsageConflict is returned when copy and merge are requested together.
	ErrUsageConflict = errors.New("--from and --to must be performed in separate commands")
	// ErrStagingFileExists stops a copy run from overwriting an unmerged pool.
	ErrStagingFileExists = errors.New("staging file already exists")
	// ErrStagingFileMissing means there is nothing to merge or report.
	ErrStagingFileMissing = errors.New("staging file not found")
)
