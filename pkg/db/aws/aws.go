package aws

import (
	"context"
	"errors"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/config"
)

func NewAWSClient(c *config.Config) (*s3.Client, *s3.PresignClient, error) {
	cfg, err := awscfg.LoadDefaultConfig(
		context.Background(),
		awscfg.WithRegion(c.S3.Region),
		awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				c.S3.AccessKey,
				c.S3.SecretKey,
				"",
			),
		),
	)
	if err != nil {
		return nil, nil, errors.New("failed to load configuration, " + err.Error())
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = &c.S3.Endpoint
	})
	presignClient := s3.NewPresignClient(client)
	return client, presignClient, nil
}
