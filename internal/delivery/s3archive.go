package delivery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"textreviews/config"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores every event as a JSON object.
type S3Archive struct {
	client objectPutter
	bucket string
}

// NewS3Archive builds an S3 client from cfg. Endpoint points at S3-compatible
// stores such as MinIO.
func NewS3Archive(cfg config.S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}

	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	endpoint := cfg.Endpoint
	// Endpoint must not contain the bucket name
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().Str("endpoint", endpoint).Str("bucket", cfg.Bucket).Msg("Cleaned bucket name from S3 endpoint")
	}

	// Dotted bucket names break virtual-hosted TLS certificates.
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", endpoint).
		Bool("pathStyle", usePathStyle).
		Msg("S3 archive initialized")
	return &S3Archive{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Channel.
func (a *S3Archive) Name() string { return "s3" }

// Key returns the object key of event: events/<type>/<yyyy>/<mm>/<dd>/<id>.json.
func Key(event *Event) string {
	t := event.CreatedAt.UTC()
	return fmt.Sprintf("events/%s/%s/%s.json",
		strings.ReplaceAll(event.EventType, ".", "_"),
		t.Format("2006/01/02"),
		event.ID,
	)
}

// Deliver implements Channel.
func (a *S3Archive) Deliver(ctx context.Context, event *Event) error {
	key := Key(event)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(event.Data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Debug().Str("bucket", a.bucket).Str("key", key).Int("size", len(event.Data)).Msg("Event archived to S3")
	return nil
}
