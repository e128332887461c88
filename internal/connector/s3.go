package connector

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/milkywaybrain/bondetl/internal/config"
	"github.com/pkg/errors"
)

// S3 is for the S3 compatible object storage holding the XBond files.
type S3 struct {
	Client *s3.Client
	Cfg    *config.COS
}

var s3Conn S3

// InitS3 initializes the object storage client with configured values.
func InitS3(ctx context.Context, cfg *config.COS) (*S3, error) {
	if s3Conn.Client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.SecretID, cfg.SecretKey, cfg.TrustKey)),
			awsconfig.WithHTTPClient(NewHTTPClient(cfg.ReqTimeoutSec, cfg.MaxIdleConns)),
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "load object storage config")
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.PathStyle
		})
		s3Conn = S3{
			Client: client,
			Cfg:    cfg,
		}
	}
	return &s3Conn, nil
}

