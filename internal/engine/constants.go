package engine

// DefaultLogFile is the log file name used when Options.LogFile is empty.
const DefaultLogFile = "data.log"

const dirPerm = 0755

// maxSnapshotBackoff caps the retry growth of a failing automatic snapshot
// at 1<<maxSnapshotBackoff times the log size limit.
const maxSnapshotBackoff = 10
