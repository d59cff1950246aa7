package repository

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/videos"
)

type awsRepository struct {
	client        *s3.Client
	preSignClient *s3.PresignClient
	bucket        string
}

func NewAwsRepository(awsClient *s3.Client, preSignClient *s3.PresignClient, bucket string) videos.ObjectStore {
	return &awsRepository{
		client:        awsClient,
		preSignClient: preSignClient,
		bucket:        bucket,
	}
}

func (a *awsRepository) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := a.client.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:        &a.bucket,
			Key:           &key,
			Body:          body,
			ContentLength: &size,
			ContentType:   &contentType,
		},
	)
	if err != nil {
		return videos.Retryable(errors.Wrapf(err, "awsRepository.PutObject %s", key))
	}
	return nil
}

func (a *awsRepository) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	res, err := a.client.GetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: &a.bucket,
			Key:    &key,
		},
	)
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, 0, videos.ErrSourceMissing
		}
		return nil, 0, videos.Retryable(errors.Wrapf(err, "awsRepository.GetObject %s", key))
	}
	var size int64
	if res.ContentLength != nil {
		size = *res.ContentLength
	}
	return res.Body, size, nil
}

func (a *awsRepository) DeleteObject(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return errors.Wrapf(err, "awsRepository.DeleteObject %s", key)
	}
	return nil
}

func (a *awsRepository) DeletePrefix(ctx context.Context, prefix string) error {
	res, err := a.client.ListObjectsV2(
		ctx,
		&s3.ListObjectsV2Input{
			Bucket: &a.bucket,
			Prefix: &prefix,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "awsRepository.DeletePrefix %s", prefix)
	}
	for _, obj := range res.Contents {
		if err := a.DeleteObject(ctx, *obj.Key); err != nil {
			return err
		}
	}
	return nil
}

func (a *awsRepository) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := a.preSignClient.PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: &a.bucket,
			Key:    &key,
		},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return "", errors.Wrapf(err, "awsRepository.PresignGet %s", key)
	}
	return req.URL, nil
}
