package config

type StorageDriver int

const (
	Memory StorageDriver = iota + 1
	Postgres
	SQLite
	Redis
	Mongo
	Pebble
)

type QueueDriver int

const (
	MemoryQueue QueueDriver = iota + 1
	RedisQueue
	RabbitMQ
	PostgresNotify
)

func (d QueueDriver) String() string {
	switch d {
	case MemoryQueue:
		return "memory"
	case RedisQueue:
		return "redis"
	case RabbitMQ:
		return "rabbitmq"
	case PostgresNotify:
		return "postgres-notify"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Memory:
		return "memory"
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case Redis:
		return "redis"
	case Mongo:
		return "mongo"
	case Pebble:
		return "pebble"
	}
	return "unknown"
}

// ParseStorageDriver is the inverse of StorageDriver.String.
func ParseStorageDriver(name string) (StorageDriver, bool) {
	for _, d := range []StorageDriver{Memory, Postgres, SQLite, Redis, Mongo, Pebble} {
		if d.String() == name {
			return d, true
		}
	}
	return 0, false
}

// ParseQueueDriver is the inverse of QueueDriver.String.
func ParseQueueDriver(name string) (QueueDriver, bool) {
	for _, d := range []QueueDriver{MemoryQueue, RedisQueue, RabbitMQ, PostgresNotify} {
		if d.String() == name {
			return d, true
		}
	}
	return 0, false
}
