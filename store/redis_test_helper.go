package store

import (
	"net"
	"testing"
	"time"
)

// requireRedis skips the calling test unless a Redis instance is reachable
// at localhost:6379 and short mode is not requested.
func requireRedis(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}

	if !isRedisReachable() {
		t.Skip("redis not available at localhost:6379")
	}
}

func isRedisReachable() bool {
	conn, err := net.DialTimeout("tcp", "localhost:6379", 1*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
