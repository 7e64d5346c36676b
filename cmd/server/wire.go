package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"prospector/internal/config"
	"prospector/internal/port"
	"prospector/internal/queue"
	"prospector/internal/queue/memqueue"
	"prospector/internal/queue/redisqueue"
	"prospector/internal/recognizer"
	"prospector/internal/recognizer/gemini"
	"prospector/internal/recognizer/tesseract"
	"prospector/internal/storage/local"
	s3storage "prospector/internal/storage/s3"
	"prospector/internal/structurer"
	"prospector/internal/structurer/claude"
	"prospector/internal/structurer/openai"
)

func init() {
	structurer.RegisterProvider("openai", func(cfg *config.StructuringProviderConfig) (port.Structurer, error) {
		return openai.NewStructurer(cfg), nil
	})
	structurer.RegisterProvider("claude", func(cfg *config.StructuringProviderConfig) (port.Structurer, error) {
		return claude.NewStructurer(cfg), nil
	})
}

func newStorage(cfg *config.Config) (port.ObjectStorage, error) {
	switch cfg.Storage.Driver {
	case "local":
		return local.NewLocalStorage(cfg.Storage.LocalRoot)
	default:
		return s3storage.NewS3Client(&cfg.S3)
	}
}

func newRecognizer(cfg *config.Config, storage port.ObjectStorage, log logrus.FieldLogger) (port.Recognizer, error) {
	var engine recognizer.Engine
	switch cfg.Recognition.Provider {
	case "tesseract":
		engine = tesseract.New(cfg.Recognition, log)
	case "gemini":
		if cfg.Recognition.APIKey == "" {
			return nil, fmt.Errorf("recognition.api_key is required for the gemini provider")
		}
		engine = gemini.NewEngine(&cfg.Recognition)
	default:
		return nil, fmt.Errorf("unknown recognition provider: %s", cfg.Recognition.Provider)
	}
	return recognizer.NewAdapter(storage, engine, log), nil
}

func newStructurer(cfg *config.Config, log logrus.FieldLogger) (port.Structurer, error) {
	return structurer.New(&cfg.Structuring, log)
}

// newQueue builds the configured job queue. The returned Pinger is nil for
// the in-process driver; the cleanup func releases the Redis client.
func newQueue(ctx context.Context, cfg *config.Config) (port.JobQueue, port.Pinger, func(), error) {
	opts := []queue.Option{
		queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		queue.WithPollInterval(cfg.Queue.PollInterval),
	}
	if cfg.Queue.Driver == "memory" {
		return memqueue.New(opts...), nil, func() {}, nil
	}

	client, err := redisqueue.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	q := redisqueue.New(client, cfg.Queue.KeyPrefix, opts...)
	return q, q, func() { _ = client.Close() }, nil
}
