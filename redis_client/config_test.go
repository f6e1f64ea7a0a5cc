package redis_client

import "testing"

func TestConfig_Addr(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{"localhost", Config{Host: "localhost", Port: "16379"}, "localhost:16379"},
		{"custom host", Config{Host: "redis.example.com", Port: "6380"}, "redis.example.com:6380"},
		{"IPv4 address", Config{Host: "192.168.1.100", Port: "6379"}, "192.168.1.100:6379"},
		{"IPv6 address", Config{Host: "::1", Port: "6379"}, "[::1]:6379"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.Addr(); got != tt.expected {
				t.Errorf("Addr() = %q, want %q", got, tt.expected)
			}
		})
	}
}
