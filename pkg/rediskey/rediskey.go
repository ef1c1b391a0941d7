package rediskey

import "fmt"

// Key prefixes shared by every loyalty process.
const (
	LockPrefix     = "lock:loyalty"
	SequencePrefix = "seq:loyalty"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLockKey returns "lock:loyalty:{name}"
func BuildLockKey(name string) string {
	return NamespaceKey(LockPrefix, name)
}

// BuildSequenceKey returns "seq:loyalty:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}

// ExpirationJobLock guards the daily points expiration run.
var ExpirationJobLock = BuildLockKey("expiration-job")
