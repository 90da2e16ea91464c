package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/richoz-sanitaire/intervention-service/internal/config"
)

// Store — долговременное хранилище медиа. Put возвращает постоянный URL объекта.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client        s3API
	bucket        string
	publicBaseURL string
}

// NewS3Store строит клиента S3. AWS_ENDPOINT_URL (LocalStack, MinIO) включает path-style адресацию.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media: S3_BUCKET is empty")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	base := cfg.PublicBaseURL
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicBaseURL: base}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("media: put %s: %w", key, err)
	}
	return s.publicBaseURL + "/" + key, nil
}

// MemoryStore — хранилище в памяти для локального запуска и тестов.
type MemoryStore struct {
	mu      sync.Mutex
	BaseURL string
	Objects map[string][]byte
	// FailOn — ключи с этим префиксом отклоняются (имитация сбоя загрузки).
	FailOn string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{BaseURL: "https://media.test", Objects: map[string][]byte{}}
}

func (m *MemoryStore) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOn != "" && strings.HasPrefix(key, m.FailOn) {
		return "", fmt.Errorf("media: put %s: simulated failure", key)
	}
	m.Objects[key] = append([]byte(nil), body...)
	return m.BaseURL + "/" + key, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Objects)
}
