package constants

// Advisory lock ids shared by every process using the same backend.
const (
	MigrationLock = iota + 7301
	ReclaimLock
)

var Locks = []int{
	MigrationLock,
	ReclaimLock,
}
