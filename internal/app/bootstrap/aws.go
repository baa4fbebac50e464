package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/ligai/internal/archive"
	appconfig "github.com/wolfman30/ligai/internal/config"
	"github.com/wolfman30/ligai/pkg/logging"
)

// LoadAWSConfig builds the SDK config shared by Bedrock, S3 and SQS. Static
// keys win over the default chain; an endpoint override points S3 and SQS
// at LocalStack.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	if cfg == nil {
		return aws.Config{}, fmt.Errorf("bootstrap: config is required")
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// endpointOverride returns the LocalStack base endpoint, or nil.
func endpointOverride(cfg *appconfig.Config) *string {
	if cfg == nil || strings.TrimSpace(cfg.AWSEndpointOverride) == "" {
		return nil
	}
	return aws.String(strings.TrimSpace(cfg.AWSEndpointOverride))
}

// BuildSQSClient returns nil when no events queue is configured.
func BuildSQSClient(awsCfg aws.Config, cfg *appconfig.Config) *sqs.Client {
	if cfg == nil || strings.TrimSpace(cfg.EventsQueueURL) == "" {
		return nil
	}
	endpoint := endpointOverride(cfg)
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// BuildArchiver returns the S3 transcript archive, or nil when no bucket is set.
func BuildArchiver(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) *archive.Store {
	if cfg == nil || strings.TrimSpace(cfg.ArchiveBucket) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	endpoint := endpointOverride(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
			o.UsePathStyle = true
		}
	})
	logger.Info("transcript archive enabled", "bucket", cfg.ArchiveBucket)
	return archive.NewStore(client, cfg.ArchiveBucket, logger)
}
