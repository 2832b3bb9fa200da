package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Upload limits
	MaxUploadBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type WorkerConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"600"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"4"`

	// WhatsApp Cloud API
	WhatsAppBaseURL string  `envconfig:"WHATSAPP_BASE_URL" default:"https://graph.facebook.com/v17.0"`
	SendRPS         float64 `envconfig:"SEND_RPS" default:"10"`
	SendBurst       int     `envconfig:"SEND_BURST" default:"1"`

	// Business token decryption (fernet). No default on purpose.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`

	// Dispatch tuning
	BatchSize   int           `envconfig:"BATCH_SIZE" default:"50"`
	MaxAttempts int           `envconfig:"MAX_RETRIES" default:"3"`
	BatchDelay  time.Duration `envconfig:"BATCH_DELAY" default:"1s"`
	JobTimeout  time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
}

type WebhookConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// The webhook pool is tuned separately; reconciliation bursts arrive in
	// provider batches.
	DBPoolMaxConns        int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns        int32         `envconfig:"DB_POOL_MIN_CONNS" default:"2"`
	DBPoolMaxConnLifetime time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`

	// Webhook verification handshake + signature check
	VerifyToken string `envconfig:"WEBHOOK_VERIFY_TOKEN" required:"true"`
	AppSecret   string `envconfig:"APP_SECRET" required:"true"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
