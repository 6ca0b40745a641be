package config

import (
	"time"

	"github.com/marchworks/dealflow/analytics"
)

type Config struct {
	RedisConfig     RedisStorageConfig
	HttpPort        int
	SchedulerConfig SchedulerConfig
	AnalyticsConfig analytics.DataCollectorConfig
	LogLevel        string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Retention    time.Duration
}
