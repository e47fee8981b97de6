package domain

import "errors"

// ErrVersionConflict is returned by stores when a conditional write finds a
// stored aggregate version other than the one the writer expected.
var ErrVersionConflict = errors.New("aggregate version conflict")

// NoStoredVersion is the expected version of a conversation that must not
// exist in the store yet.
const NoStoredVersion int64 = -1
