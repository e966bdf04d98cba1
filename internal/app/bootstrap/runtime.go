package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/notify"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// LoadAWSConfig builds the SDK config, pointing SQS at
// AWS_ENDPOINT_OVERRIDE when set (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
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

func newSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// BuildSMSSender picks the SMS transport named by SMS_PROVIDER. "auto"
// prefers Twilio, then SQS, then logging only.
func BuildSMSSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.SMSSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	twilioReady := cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != ""
	sqsReady := strings.TrimSpace(cfg.SMSQueueURL) != ""

	provider := cfg.SMSProvider
	if provider == "" || provider == "auto" {
		switch {
		case twilioReady:
			provider = "twilio"
		case sqsReady:
			provider = "sqs"
		default:
			provider = "log"
		}
	}

	switch provider {
	case "twilio":
		if !twilioReady {
			return nil, fmt.Errorf("bootstrap: SMS_PROVIDER=twilio requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
		logger.Info("sms provider selected", "provider", "twilio")
		return notify.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), nil
	case "sqs":
		if !sqsReady {
			return nil, fmt.Errorf("bootstrap: SMS_PROVIDER=sqs requires SMS_QUEUE_URL")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("sms provider selected", "provider", "sqs", "queue_url", cfg.SMSQueueURL)
		return notify.NewSQSSender(newSQSClient(awsCfg, cfg.AWSEndpointOverride), cfg.SMSQueueURL), nil
	case "log":
		logger.Warn("sms provider not configured; messages will only be logged")
		return notify.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}
}
