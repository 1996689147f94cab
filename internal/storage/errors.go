package storage

import "errors"

// ErrJobNotFound is returned when no row matches the job ID
var ErrJobNotFound = errors.New("job not found in store")
