package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the S3-compatible backend. Endpoint is optional and
// enables MinIO/R2-style deployments; custom endpoints force path-style
// addressing unless PathStyleAccess says otherwise.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	CustomDomain    string
	PathStyleAccess bool
	PresignExpiry   time.Duration
}

// S3Store implements Store on an S3-compatible bucket.
type S3Store struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	bucket        string
	publicBase    string
	presignExpiry time.Duration
}

var _ Store = (*S3Store)(nil)

// NewS3Store validates the options and builds the client.
func NewS3Store(opts S3Options) (*S3Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	region := strings.TrimSpace(opts.Region)
	accessKey := strings.TrimSpace(opts.AccessKeyID)
	secretKey := strings.TrimSpace(opts.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	pathStyle := opts.PathStyleAccess
	if endpoint != "" && !pathStyle {
		pathStyle = true
	}

	clientOpts := s3.Options{
		Region:       region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		UsePathStyle: pathStyle,
	}
	if endpoint != "" {
		clientOpts.BaseEndpoint = aws.String(endpoint)
	}
	client := s3.New(clientOpts)

	publicBase := strings.TrimRight(strings.TrimSpace(opts.CustomDomain), "/")
	if publicBase == "" {
		if endpoint != "" {
			publicBase = endpoint + "/" + bucket
		} else {
			publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
		}
	}

	presignExpiry := opts.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}

	return &S3Store{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucket:        bucket,
		publicBase:    publicBase,
		presignExpiry: presignExpiry,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error) {
	key := normalizeKey(path)
	if key == "" {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %q: %w", key, err)
	}

	downloadURL := ""
	if presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = s.presignExpiry
	}); err == nil {
		downloadURL = presigned.URL
	}

	return &PutResult{
		URL:         s.publicURL(key),
		DownloadURL: downloadURL,
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, rawURL string) error {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return fmt.Errorf("url %q does not belong to this bucket", rawURL)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(normalizeKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" {
				continue
			}
			out = append(out, Object{URL: s.publicURL(key), Path: key})
		}
	}
	return out, nil
}

func (s *S3Store) Head(ctx context.Context, rawURL string) (*Metadata, error) {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("url %q does not belong to this bucket", rawURL)
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3 head %q: %w", key, err)
	}
	return &Metadata{
		ContentType:  aws.ToString(head.ContentType),
		Size:         aws.ToInt64(head.ContentLength),
		LastModified: aws.ToTime(head.LastModified),
	}, nil
}

func (s *S3Store) publicURL(key string) string {
	return s.publicBase + "/" + encodeKey(key)
}

// keyFromURL strips the public base from a URL, accepting both encoded and
// raw forms.
func (s *S3Store) keyFromURL(rawURL string) (string, bool) {
	trimmed := strings.TrimSpace(rawURL)
	if !strings.HasPrefix(trimmed, s.publicBase+"/") {
		return "", false
	}
	key := strings.TrimPrefix(trimmed, s.publicBase+"/")
	if idx := strings.IndexAny(key, "?#"); idx >= 0 {
		key = key[:idx]
	}
	if decoded, err := url.PathUnescape(key); err == nil {
		key = decoded
	}
	key = normalizeKey(key)
	if key == "" {
		return "", false
	}
	return key, true
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return key
}

func encodeKey(key string) string {
	parts := strings.Split(normalizeKey(key), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
