package config

import "time"

const (
	DefaultLeaseDuration       = 5 * time.Minute
	DefaultSweepInterval       = 30 * time.Second
	MinSweepInterval           = time.Second
	DefaultMaxAttempts         = 3
	DefaultWorkerCount         = 4
	DefaultShutdownGracePeriod = 30 * time.Second
	DefaultSweepBatchSize      = 500
	DefaultOrphanAgeFactor     = 2 // orphan age is this many lease durations unless set
	DefaultStorageDriver       = Memory
	DefaultQueueDriver         = MemoryQueue
	DefaultTableName           = "jobcore_jobs"
	DefaultQueueName           = "jobcore"
)
