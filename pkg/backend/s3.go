package backend

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cuemby/artstore/pkg/errdefs"
)

// S3Config configures the S3/MinIO backend driver
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for MinIO deployments
	Endpoint string
	// Prefix namespaces all keys of this element within the bucket
	Prefix string
	// CapacityTotalBytes is the declared capacity; S3 has no statvfs so
	// free space is the declared total minus the tracked usage.
	CapacityTotalBytes int64
	// SpoolDir receives upload spool files while hashing; defaults to
	// the OS temp dir.
	SpoolDir string
}

// S3Driver stores objects in an S3 or MinIO bucket. Used bytes are
// tracked in a counter and reconciled against a full list walk by the
// health reporter's periodic reconciliation.
type S3Driver struct {
	client    *s3.Client
	cfg       S3Config
	usedBytes atomic.Int64
}

// NewS3Driver creates an S3 backend driver
func NewS3Driver(ctx context.Context, cfg S3Config) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.CapacityTotalBytes <= 0 {
		return nil, fmt.Errorf("s3 capacity total is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	d := &S3Driver{client: client, cfg: cfg}
	if err := d.Reconcile(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *S3Driver) key(path string) string {
	if d.cfg.Prefix == "" {
		return path
	}
	return strings.TrimSuffix(d.cfg.Prefix, "/") + "/" + path
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// WriteObject spools r to a local file while hashing, then uploads the
// spool in one PutObject. S3 object creation is atomic, so a reader never
// observes partial bytes.
func (d *S3Driver) WriteObject(ctx context.Context, path string, r io.Reader, maxBytes int64) (*WriteResult, error) {
	spool, err := os.CreateTemp(d.cfg.SpoolDir, "artstore-spool-*")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to create spool file", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	sha := sha256.New()
	md := md5.New()
	limited := r
	if maxBytes > 0 {
		limited = io.LimitReader(r, maxBytes+1)
	}
	written, err := io.Copy(io.MultiWriter(spool, sha, md), limited)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to spool upload", err)
	}
	if maxBytes > 0 && written > maxBytes {
		return nil, errdefs.Newf(errdefs.KindFileTooLarge, "object exceeds maximum size of %d bytes", maxBytes)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to rewind spool", err)
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(d.key(path)),
		Body:          spool,
		ContentLength: aws.Int64(written),
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to put object", err)
	}
	d.usedBytes.Add(written)

	return &WriteResult{
		SizeBytes: written,
		SHA256:    hex.EncodeToString(sha.Sum(nil)),
		MD5:       hex.EncodeToString(md.Sum(nil)),
	}, nil
}

// ReadObject reads the object at offset; length < 0 reads to the end
func (d *S3Driver) ReadObject(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(path)),
	}
	if offset > 0 || length >= 0 {
		if length < 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		}
	}
	out, err := d.client.GetObject(ctx, input)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "object not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to get object", err)
	}
	return out.Body, nil
}

// StatObject heads the object
func (d *S3Driver) StatObject(ctx context.Context, path string) (*ObjectInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "object not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to head object", err)
	}
	info := &ObjectInfo{Path: path, SizeBytes: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.ModTime = out.LastModified.UTC()
	}
	return info, nil
}

// DeleteObject removes the object and adjusts the tracked usage
func (d *S3Driver) DeleteObject(ctx context.Context, path string) error {
	info, err := d.StatObject(ctx, path)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil
		}
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to delete object", err)
	}
	d.usedBytes.Add(-info.SizeBytes)
	return nil
}

// WriteSidecar puts the sidecar object; PutObject replaces atomically
func (d *S3Driver) WriteSidecar(ctx context.Context, path string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(d.key(path)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to put sidecar", err)
	}
	return nil
}

// ReadSidecar gets the sidecar bytes
func (d *S3Driver) ReadSidecar(ctx context.Context, path string) ([]byte, error) {
	rc, err := d.ReadObject(ctx, path, 0, -1)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "sidecar not found: %s", path)
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to read sidecar", err)
	}
	return data, nil
}

// Walk paginates ListObjectsV2 under prefix
func (d *S3Driver) Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.cfg.Bucket),
		Prefix: aws.String(d.key(prefix)),
	})
	strip := ""
	if d.cfg.Prefix != "" {
		strip = strings.TrimSuffix(d.cfg.Prefix, "/") + "/"
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to list objects", err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Path:      strings.TrimPrefix(aws.ToString(obj.Key), strip),
				SizeBytes: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.ModTime = obj.LastModified.UTC()
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// Capacity reports declared total minus tracked usage
func (d *S3Driver) Capacity(ctx context.Context) (*Capacity, error) {
	used := d.usedBytes.Load()
	free := d.cfg.CapacityTotalBytes - used
	if free < 0 {
		free = 0
	}
	return &Capacity{
		TotalBytes: d.cfg.CapacityTotalBytes,
		UsedBytes:  used,
		FreeBytes:  free,
	}, nil
}

// FileCount counts sidecar objects
func (d *S3Driver) FileCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.Walk(ctx, "", func(info ObjectInfo) error {
		if strings.HasSuffix(info.Path, SidecarSuffix) {
			count++
		}
		return nil
	})
	return count, err
}

// Reconcile recomputes the tracked usage from a full bucket walk. The
// health reporter calls this periodically to correct counter drift.
func (d *S3Driver) Reconcile(ctx context.Context) error {
	var used int64
	err := d.Walk(ctx, "", func(info ObjectInfo) error {
		used += info.SizeBytes
		return nil
	})
	if err != nil {
		return err
	}
	d.usedBytes.Store(used)
	return nil
}
