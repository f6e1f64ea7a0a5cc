package redis_client

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRedisConfigLogFields_RedactsPassword(t *testing.T) {
	config := Config{Host: "127.0.0.1", Port: "6379", Password: "super-secret", DB: 2}

	logFields := redisConfigLogFields(config)
	if strings.Contains(logFields, config.Password) {
		t.Fatalf("log fields leak password: %s", logFields)
	}
	if !strings.Contains(logFields, "password=[REDACTED]") {
		t.Fatalf("log fields should contain redaction marker, got: %s", logFields)
	}
}

func TestRedisConfigLogFields_EmptyPassword(t *testing.T) {
	logFields := redisConfigLogFields(Config{Host: "127.0.0.1", Port: "6379"})
	if !strings.Contains(logFields, "password=<empty>") {
		t.Fatalf("log fields should mark empty password, got: %s", logFields)
	}
}

// integrationRedisConfig reads REDIS_TEST_ADDR or skips the test.
func integrationRedisConfig(t *testing.T) Config {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis integration tests")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("invalid REDIS_TEST_ADDR %q: %v", addr, err)
	}

	db := 0
	if dbRaw := strings.TrimSpace(os.Getenv("REDIS_TEST_DB")); dbRaw != "" {
		db, err = strconv.Atoi(dbRaw)
		if err != nil {
			t.Fatalf("invalid REDIS_TEST_DB %q: %v", dbRaw, err)
		}
	}

	return Config{Host: host, Port: port, Password: os.Getenv("REDIS_TEST_PASSWORD"), DB: db, KeyPrefix: "fring-test:"}
}

func TestNewRedis_ConnectionSuccess(t *testing.T) {
	config := integrationRedisConfig(t)

	client, err := NewRedis(context.Background(), config, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedis() failed: %v", err)
	}
	defer client.Close()
}

func TestNewRedis_ConnectionFailure_UnreachablePort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, Config{Host: "127.0.0.1", Port: "1"}, nil)
	if err == nil {
		t.Fatal("NewRedis() should fail when port is unreachable")
	}
}
