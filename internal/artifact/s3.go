package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible endpoint (MinIO, R2); empty for AWS
	// KeyPrefix is prepended to every key inside the bucket.
	KeyPrefix string
	// PublicBaseURL serves the bucket publicly. Defaults to the virtual-hosted AWS URL.
	PublicBaseURL string
	PathStyle     bool
	CacheControl  string
}

// S3Store keeps artifacts in an S3 bucket.
type S3Store struct {
	api S3API
	cfg S3Config
}

func NewS3(api S3API, cfg S3Config) *S3Store {
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=31536000"
	}
	return &S3Store{api: api, cfg: cfg}
}

// NewS3FromEnv loads the default AWS credential chain and builds a client.
func NewS3FromEnv(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storageErr("init", cfg.Bucket, err)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3(client, cfg), nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if p := strings.Trim(s.cfg.KeyPrefix, "/"); p != "" {
		return path.Join(p, key), nil
	}
	return key, nil
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return "", storageErr("save", key, err)
	}
	if contentType == "" {
		contentType = ContentTypeMP3
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(s.cfg.CacheControl),
	})
	if err != nil {
		return "", storageErr("save", key, err)
	}
	return s.URL(key), nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return false, storageErr("exists", key, err)
	}
	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(k)})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, storageErr("exists", key, err)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	k, err := s.objectKey(key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(k)})
	if err != nil && !isS3NotFound(err) {
		return storageErr("delete", key, err)
	}
	return nil
}

func (s *S3Store) Read(ctx context.Context, key string) (Object, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return Object{}, storageErr("read", key, err)
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(k)})
	if err != nil {
		if isS3NotFound(err) {
			return Object{}, storageErr("read", key, ErrNotFound)
		}
		return Object{}, storageErr("read", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, storageErr("read", key, err)
	}
	obj := Object{Data: data, ContentType: aws.ToString(out.ContentType)}
	if obj.ContentType == "" {
		obj.ContentType = ContentTypeMP3
	}
	if out.LastModified != nil {
		obj.ModTime = *out.LastModified
	}
	return obj, nil
}

func (s *S3Store) URL(key string) string {
	k, err := s.objectKey(key)
	if err != nil {
		k = key
	}
	return joinURL(s.cfg.PublicBaseURL, k)
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *smithyhttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
