package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/article-catalog/backend/internal/config"
)

func TestLoadAPIDefaults(t *testing.T) {
	for _, key := range []string{
		"ELASTICSEARCH_ADDR", "ELASTICSEARCH_INDEX", "ELASTICSEARCH_REFRESH",
		"DATABASE_DRIVER", "DATABASE_URL", "API_BIND_ADDR", "API_PAGE_SIZE",
		"API_MAX_PAGE_SIZE", "KAFKA_BROKERS", "REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "articles", cfg.ElasticsearchIndex)
	require.Equal(t, "wait_for", cfg.ElasticsearchRefresh)
	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, "0.0.0.0:8000", cfg.BindAddr)
	require.Equal(t, 20, cfg.DefaultPage)
	require.Equal(t, 100, cfg.MaxPage)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Empty(t, cfg.RedisAddr)
	require.True(t, cfg.ReindexEnabled)
}

func TestLoadAPIOverrides(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")
	t.Setenv("ELASTICSEARCH_REFRESH", "false")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:articles.db")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("IDEMPOTENCY_TTL", "2h")
	t.Setenv("API_REINDEX_ENABLED", "false")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
	require.Equal(t, "false", cfg.ElasticsearchRefresh)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, "file:articles.db", cfg.DatabaseURL)
	require.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	require.False(t, cfg.ReindexEnabled)
}

func TestLoadAPIValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{name: "page above max", env: map[string]string{"API_PAGE_SIZE": "50", "API_MAX_PAGE_SIZE": "10"}, msg: "cannot exceed"},
		{name: "zero page", env: map[string]string{"API_PAGE_SIZE": "0"}, msg: "API_PAGE_SIZE must be positive"},
		{name: "driver", env: map[string]string{"DATABASE_DRIVER": "mysql"}, msg: "DATABASE_DRIVER"},
		{name: "refresh", env: map[string]string{"ELASTICSEARCH_REFRESH": "sometimes"}, msg: "ELASTICSEARCH_REFRESH"},
		{name: "timeout", env: map[string]string{"INDEX_TIMEOUT": "0s"}, msg: "INDEX_TIMEOUT"},
		{name: "unparsable", env: map[string]string{"API_PAGE_SIZE": "many"}, msg: "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadAPI()
			require.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093,")
	t.Setenv("KAFKA_REINDEX_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "custom_topic", cfg.ReindexTopic)
	require.Equal(t, "custom_topic_dlq", cfg.DLQTopic())
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
}

func TestLoadWorkerRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := config.LoadWorker()
	require.ErrorContains(t, err, "KAFKA_BROKERS")
}

func TestLoadSeed(t *testing.T) {
	t.Setenv("API_URL", "http://api:8000/articles")
	t.Setenv("SEED_TOTAL", "50")
	t.Setenv("SEED_CONCURRENCY", "4")

	cfg, err := config.LoadSeed()
	require.NoError(t, err)
	require.Equal(t, "http://api:8000/articles", cfg.URL)
	require.Equal(t, 50, cfg.Total)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 10*time.Second, cfg.Timeout)
}
