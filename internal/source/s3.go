package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3 reads every *.json object under bucket/prefix. The Client field takes the
// s3iface interface rather than a concrete *s3.S3 so tests can substitute a
// fake without network access.
type S3 struct {
	Bucket string
	Prefix string
	Client s3iface.S3API
}

func (s *S3) Walk(ctx context.Context, fn func(name string, r io.Reader) error) error {
	if s.Client == nil {
		return fmt.Errorf("s3 source: missing client")
	}
	if s.Bucket == "" {
		return fmt.Errorf("s3 source: missing bucket")
	}

	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix),
	}
	err := s.Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if strings.HasSuffix(strings.ToLower(key), ".json") {
					keys = append(keys, key)
				}
			}
			return true
		})
	if err != nil {
		return classifyS3Err(s.Bucket, s.Prefix, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: s3://%s/%s: no .json objects", ErrNotFound, s.Bucket, s.Prefix)
	}

	for _, key := range keys {
		out, err := s.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyS3Err(s.Bucket, key, err)
		}
		ferr := fn("s3://"+s.Bucket+"/"+key, out.Body)
		_ = out.Body.Close()
		if ferr != nil {
			return ferr
		}
	}
	return nil
}

func classifyS3Err(bucket, key string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
			return fmt.Errorf("%w: s3://%s/%s: %v", ErrNotFound, bucket, key, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: s3://%s/%s: %v", ErrAccessDenied, bucket, key, err)
		}
	}
	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}
