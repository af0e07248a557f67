package backend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the direct S3 backend. Endpoint is optional and
// enables S3-compatible stores (MinIO, R2) with path-style addressing.
type S3Config struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// S3 transfers save directories directly against an S3 bucket, proving the
// transfer capability is not tied to an external command-line tool. Remote
// paths are object key prefixes within the configured bucket.
type S3 struct {
	client *s3.Client
	bucket string
	filter *Filter
}

type S3Option func(*S3)

// WithS3Filter excludes paths from mirror transfers and their prune passes.
func WithS3Filter(f *Filter) S3Option {
	return func(b *S3) {
		b.filter = f
	}
}

func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	b := &S3{client: client, bucket: cfg.Bucket}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *S3) Name() string { return "s3" }

func (b *S3) List(ctx context.Context, remotePath string) ([]RemoteFile, error) {
	prefix := keyPrefix(remotePath)

	var files []RemoteFile
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: s3 list %s: %v", ErrUnavailable, prefix, err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}

			var hashes map[string]string
			etag := strings.Trim(aws.ToString(obj.ETag), `"`)
			// multipart ETags are not MD5 digests
			if etag != "" && !strings.Contains(etag, "-") {
				hashes = map[string]string{"md5": strings.ToLower(etag)}
			}

			files = append(files, RemoteFile{
				Path:    key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				Hashes:  hashes,
			})
		}
	}
	return files, nil
}

func (b *S3) Upload(ctx context.Context, localRoot, remotePath string) error {
	prefix := keyPrefix(remotePath)

	remote, err := b.List(ctx, remotePath)
	if err != nil {
		return err
	}

	uploaded := make(map[string]struct{})
	err = filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if b.filter.Skip(key) {
			return nil
		}

		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(prefix + key),
			Body:   file,
		})
		if err != nil {
			return err
		}
		uploaded[key] = struct{}{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: s3 upload %s: %v", ErrUnavailable, prefix, err)
	}

	// mirror semantics: drop remote objects with no local counterpart,
	// leaving excluded paths alone on both sides
	for _, rf := range remote {
		if _, ok := uploaded[rf.Path]; ok {
			continue
		}
		if b.filter.Skip(rf.Path) {
			continue
		}
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(prefix + rf.Path),
		})
		if err != nil {
			return fmt.Errorf("%w: s3 delete %s: %v", ErrUnavailable, rf.Path, err)
		}
	}
	return nil
}

func (b *S3) Download(ctx context.Context, remotePath, localRoot string) error {
	prefix := keyPrefix(remotePath)

	remote, err := b.List(ctx, remotePath)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(remote))
	for _, rf := range remote {
		if b.filter.Skip(rf.Path) {
			continue
		}
		keep[rf.Path] = struct{}{}

		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(prefix + rf.Path),
		})
		if err != nil {
			return fmt.Errorf("%w: s3 get %s: %v", ErrUnavailable, rf.Path, err)
		}
		if err := writeStream(filepath.Join(localRoot, filepath.FromSlash(rf.Path)), out.Body); err != nil {
			return fmt.Errorf("write %s: %w", rf.Path, err)
		}
	}

	// mirror semantics: drop local files with no remote counterpart
	err = filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relPath)
		if b.filter.Skip(rel) {
			return nil
		}
		if _, ok := keep[rel]; !ok {
			return os.Remove(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune local %s: %w", localRoot, err)
	}
	return nil
}

func (b *S3) Copy(ctx context.Context, srcRemote, dstRemote string) error {
	srcPrefix := keyPrefix(srcRemote)
	dstPrefix := keyPrefix(dstRemote)

	files, err := b.List(ctx, srcRemote)
	if err != nil {
		return err
	}

	for _, rf := range files {
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(dstPrefix + rf.Path),
			CopySource: aws.String(path.Join(b.bucket, srcPrefix+rf.Path)),
		})
		if err != nil {
			return fmt.Errorf("%w: s3 copy %s: %v", ErrUnavailable, rf.Path, err)
		}
	}
	return nil
}

// Mkdir is a no-op: S3 has no directories.
func (b *S3) Mkdir(ctx context.Context, remotePath string) error {
	return nil
}

func keyPrefix(remotePath string) string {
	p := strings.Trim(remotePath, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func writeStream(dst string, body io.ReadCloser) error {
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, body)
	return err
}
