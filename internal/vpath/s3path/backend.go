// Package s3path implements the S3 object-store Path backend,
// caching API calls through an s3cache.Cache and batching bulk deletes.
// Grounded on backend/s3/s3.go's bucket/key identity model, generalized to
// the aws-sdk-go-v2 client the rest of this example pack standardizes on.
package s3path

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shimomut/tfm/internal/s3cache"
	"github.com/shimomut/tfm/internal/vpath"
)

const scheme = "s3"

// deleteBatchSize is the S3 DeleteObjects limit.
const deleteBatchSize = 1000

// clientAPI is the subset of *s3.Client this backend needs, allowing tests
// to substitute a fake.
type clientAPI interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Register installs the S3 backend as the "s3" scheme handler.
func Register(r *vpath.Registry, client clientAPI, cache *s3cache.Cache) {
	r.Register(scheme, func(uri string) (vpath.Backend, error) {
		bucket, key, err := parseURI(uri)
		if err != nil {
			return nil, err
		}
		return &Backend{client: client, cache: cache, bucket: bucket, key: key}, nil
	})
}

func parseURI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "not an s3:// uri: %s", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", vpath.NewErrorf(vpath.KindInvalidURI, nil, "s3 uri missing bucket: %s", uri)
	}
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}

// Backend implements vpath.Backend over one S3 bucket+key.
type Backend struct {
	client clientAPI
	cache  *s3cache.Cache
	bucket string
	key    string

	// cachedSize/cachedMTime are populated from a prior directory listing
	//, avoiding a redundant head_object call.
	cachedSize  *int64
	cachedMTime *time.Time
}

func (b *Backend) uri() string { return "s3://" + b.bucket + "/" + b.key }

func (b *Backend) URI() string    { return b.uri() }
func (b *Backend) Scheme() string { return scheme }

func (b *Backend) Name() string {
	trimmed := strings.TrimSuffix(b.key, "/")
	if trimmed == "" {
		return b.bucket
	}
	return path.Base(trimmed)
}

func (b *Backend) Stem() string {
	name := b.Name()
	if ext := path.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func (b *Backend) Suffix() string { return path.Ext(b.Name()) }

func (b *Backend) Parts() []string {
	if b.key == "" {
		return []string{b.bucket}
	}
	return append([]string{b.bucket}, strings.Split(strings.Trim(b.key, "/"), "/")...)
}

func (b *Backend) Anchor() string { return "s3://" + b.bucket + "/" }

func (b *Backend) Parent() (vpath.Backend, bool) {
	trimmed := strings.TrimSuffix(b.key, "/")
	if trimmed == "" {
		return nil, false // bucket root is the scheme sentinel
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return &Backend{client: b.client, cache: b.cache, bucket: b.bucket, key: ""}, true
	}
	return &Backend{client: b.client, cache: b.cache, bucket: b.bucket, key: trimmed[:idx+1]}, true
}

func (b *Backend) Join(name string) vpath.Backend {
	key := strings.TrimSuffix(b.key, "/")
	if key == "" {
		return &Backend{client: b.client, cache: b.cache, bucket: b.bucket, key: name}
	}
	return &Backend{client: b.client, cache: b.cache, bucket: b.bucket, key: key + "/" + name}
}

func (b *Backend) Exists(ctx context.Context) (bool, error) {
	if b.key == "" {
		return true, nil
	}
	isDir, err := b.IsDir(ctx)
	if err != nil {
		return false, err
	}
	if isDir {
		return true, nil
	}
	_, err = b.headObject(ctx)
	if err != nil {
		if vpath.Kind(err) == vpath.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDir reports true if the key ends with "/" or a listing under
// key+"/" returns any entries.
func (b *Backend) IsDir(ctx context.Context) (bool, error) {
	if b.key == "" || strings.HasSuffix(b.key, "/") {
		return true, nil
	}
	prefix := b.key + "/"
	out, err := b.listObjectsV2(ctx, prefix, "/", "", 1)
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (b *Backend) IsFile(ctx context.Context) (bool, error) {
	isDir, err := b.IsDir(ctx)
	if err != nil {
		return false, err
	}
	if isDir {
		return false, nil
	}
	return b.Exists(ctx)
}

func (b *Backend) IsSymlink(ctx context.Context) (bool, error) { return false, nil }

// Stat follows a four-step precedence: bucket root, cached listing
// metadata, directory check, then a HeadObject call.
func (b *Backend) Stat(ctx context.Context) (vpath.Stat, error) {
	if b.key == "" {
		return vpath.Stat{IsDir: true, Mode: os.ModeDir | 0o755, ModTime: time.Now()}, nil
	}
	if b.cachedSize != nil && b.cachedMTime != nil {
		return vpath.Stat{Size: *b.cachedSize, ModTime: *b.cachedMTime, Mode: 0o644}, nil
	}
	isDir, err := b.IsDir(ctx)
	if err != nil {
		return vpath.Stat{}, err
	}
	if isDir {
		mtime := time.Now()
		if b.cachedMTime != nil {
			mtime = *b.cachedMTime
		}
		return vpath.Stat{IsDir: true, Mode: os.ModeDir | 0o755, ModTime: mtime}, nil
	}
	out, err := b.headObject(ctx)
	if err != nil {
		return vpath.Stat{}, err
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	var mtime time.Time
	if out.LastModified != nil {
		mtime = *out.LastModified
	}
	return vpath.Stat{Size: size, ModTime: mtime, Mode: 0o644}, nil
}

func (b *Backend) headObject(ctx context.Context) (*s3.HeadObjectOutput, error) {
	if cached, ok := b.cache.Get(s3cache.OpHeadObject, b.bucket, b.key, ""); ok {
		return cached.(*s3.HeadObjectOutput), nil
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key)})
	if err != nil {
		if isNotFound(err) {
			return nil, vpath.NewErrorf(vpath.KindNotFound, err, "s3://%s/%s not found", b.bucket, b.key)
		}
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "head_object s3://%s/%s", b.bucket, b.key)
	}
	b.cache.Put(s3cache.OpHeadObject, b.bucket, b.key, "", out, 0)
	return out, nil
}

func (b *Backend) listObjectsV2(ctx context.Context, prefix, delimiter, continuationToken string, maxKeys int32) (*s3.ListObjectsV2Output, error) {
	extra := delimiter + "|" + continuationToken + "|" + strconv.Itoa(int(maxKeys))
	if cached, ok := b.cache.Get(s3cache.OpListObjects, b.bucket, prefix, extra); ok {
		return cached.(*s3.ListObjectsV2Output), nil
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket), Prefix: aws.String(prefix)}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	if continuationToken != "" {
		in.ContinuationToken = aws.String(continuationToken)
	}
	if maxKeys > 0 {
		in.MaxKeys = aws.Int32(maxKeys)
	}
	out, err := b.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "list_objects_v2 s3://%s/%s", b.bucket, prefix)
	}
	b.cache.Put(s3cache.OpListObjects, b.bucket, prefix, extra, out, 0)
	return out, nil
}

func (b *Backend) ReadBytes(ctx context.Context) ([]byte, error) {
	return b.ReadBytesWithProgress(ctx, nil)
}

func (b *Backend) ReadBytesWithProgress(ctx context.Context, cb vpath.ByteProgressFunc) ([]byte, error) {
	// GetObject results are not cached.
	out, err := s3GetObject(ctx, b.client, b.bucket, b.key)
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	var total int64
	if out.ContentLength != nil {
		total = *out.ContentLength
	}
	var buf bytes.Buffer
	chunk := make([]byte, 1<<20)
	var copied int64
	for {
		n, rerr := out.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			copied += int64(n)
			if cb != nil {
				cb(copied, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, vpath.NewErrorf(vpath.KindIoError, rerr, "reading s3://%s/%s", b.bucket, b.key)
		}
	}
	return buf.Bytes(), nil
}

func (b *Backend) WriteBytes(ctx context.Context, data []byte) error {
	return b.WriteBytesWithProgress(ctx, data, nil)
}

// WriteBytesWithProgress buffers data and issues a single PutObject on
// completion, so a mid-transfer cancellation never leaves a truncated
// remote object.
func (b *Backend) WriteBytesWithProgress(ctx context.Context, data []byte, cb vpath.ByteProgressFunc) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return vpath.NewErrorf(vpath.KindIoError, err, "put_object s3://%s/%s", b.bucket, b.key)
	}
	if cb != nil {
		cb(int64(len(data)), int64(len(data)))
	}
	b.invalidateForWrite()
	return nil
}

type dirIterator struct {
	b                 *Backend
	prefix            string
	continuationToken string
	pending           []vpath.Backend
	idx               int
	done              bool
}

func (it *dirIterator) fetchPage(ctx context.Context) error {
	out, err := it.b.listObjectsV2(ctx, it.prefix, "/", it.continuationToken, 1000)
	if err != nil {
		return err
	}
	it.pending = it.pending[:0]
	it.idx = 0
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix == nil {
			continue
		}
		it.pending = append(it.pending, &Backend{client: it.b.client, cache: it.b.cache, bucket: it.b.bucket, key: *cp.Prefix})
	}
	for _, obj := range out.Contents {
		if obj.Key == nil || *obj.Key == it.prefix {
			continue
		}
		child := &Backend{client: it.b.client, cache: it.b.cache, bucket: it.b.bucket, key: *obj.Key}
		if obj.Size != nil {
			sz := *obj.Size
			child.cachedSize = &sz
		}
		if obj.LastModified != nil {
			mt := *obj.LastModified
			child.cachedMTime = &mt
		}
		// Populate the per-key head_object cache too, eliminating
		// subsequent per-file stat calls.
		it.b.cache.Put(s3cache.OpHeadObject, it.b.bucket, *obj.Key, "", &s3.HeadObjectOutput{
			ContentLength: obj.Size,
			LastModified:  obj.LastModified,
			ETag:          obj.ETag,
		}, 0)
		it.pending = append(it.pending, child)
	}
	if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
		it.continuationToken = *out.NextContinuationToken
	} else {
		it.done = true
	}
	return nil
}

func (it *dirIterator) Next(ctx context.Context) (vpath.Backend, bool, error) {
	for it.idx >= len(it.pending) {
		if it.done {
			return nil, false, nil
		}
		if err := it.fetchPage(ctx); err != nil {
			return nil, false, err
		}
		if len(it.pending) == 0 && it.done {
			return nil, false, nil
		}
	}
	child := it.pending[it.idx]
	it.idx++
	return child, true, nil
}

func (it *dirIterator) Close() error { return nil }

func (b *Backend) Iterdir(ctx context.Context) (vpath.DirIterator, error) {
	isDir, err := b.IsDir(ctx)
	if err != nil {
		return nil, err
	}
	if !isDir {
		if _, herr := b.headObject(ctx); vpath.Kind(herr) == vpath.KindNotFound {
			return nil, vpath.NewErrorf(vpath.KindNotFound, herr, "%s not found", b.uri())
		}
		return nil, vpath.NewErrorf(vpath.KindNotADirectory, nil, "%s is not a directory", b.uri())
	}
	prefix := b.key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &dirIterator{b: b, prefix: prefix}, nil
}

func (b *Backend) Mkdir(ctx context.Context, parents bool) error {
	key := b.key
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key), Body: bytes.NewReader(nil)})
	if err != nil {
		return vpath.NewErrorf(vpath.KindIoError, err, "mkdir s3://%s/%s", b.bucket, key)
	}
	b.invalidateForWrite()
	return nil
}

// Rmdir enumerates every key with the directory prefix and batch-deletes
// them in chunks of 1000.
func (b *Backend) Rmdir(ctx context.Context) error {
	prefix := b.key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var keys []string
	var token string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: optionalToken(token),
		})
		if err != nil {
			return vpath.NewErrorf(vpath.KindIoError, err, "list_objects_v2 s3://%s/%s", b.bucket, prefix)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = *out.NextContinuationToken
			continue
		}
		break
	}
	for i := 0; i < len(keys); i += deleteBatchSize {
		end := i + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		objs := make([]types.ObjectIdentifier, 0, end-i)
		for _, k := range keys[i:end] {
			objs = append(objs, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: objs},
		})
		if err != nil {
			return vpath.NewErrorf(vpath.KindIoError, err, "delete_objects s3://%s/%s", b.bucket, prefix)
		}
	}
	b.invalidateForWrite()
	return nil
}

func optionalToken(token string) *string {
	if token == "" {
		return nil
	}
	return aws.String(token)
}

func (b *Backend) Unlink(ctx context.Context) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key)})
	if err != nil {
		return vpath.NewErrorf(vpath.KindIoError, err, "delete_object s3://%s/%s", b.bucket, b.key)
	}
	b.invalidateForWrite()
	return nil
}

// Rename is copy_object + unlink.
func (b *Backend) Rename(ctx context.Context, newKey string) (vpath.Backend, error) {
	target := newKey
	if !strings.Contains(target, "/") && b.key != "" {
		idx := strings.LastIndex(b.key, "/")
		if idx >= 0 {
			target = b.key[:idx+1] + newKey
		}
	}
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(target),
		CopySource: aws.String(b.bucket + "/" + b.key),
	})
	if err != nil {
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "copy_object s3://%s/%s -> %s", b.bucket, b.key, target)
	}
	if err := b.Unlink(ctx); err != nil {
		return nil, err
	}
	b.invalidateForWrite()
	result := &Backend{client: b.client, cache: b.cache, bucket: b.bucket, key: target}
	result.invalidateForWrite()
	return result, nil
}

func (b *Backend) Touch(ctx context.Context) error { return b.WriteBytes(ctx, nil) }

// Chmod is a no-op on S3.
func (b *Backend) Chmod(ctx context.Context, mode os.FileMode) error { return nil }

func (b *Backend) Capabilities() vpath.Capabilities { return vpath.S3Capabilities }

func (b *Backend) GetDisplayPrefix() string { return "s3://" + b.bucket + "/" }

func (b *Backend) GetExtendedMetadata(ctx context.Context) (vpath.ExtendedMetadata, error) {
	st, err := b.Stat(ctx)
	if err != nil {
		return vpath.ExtendedMetadata{}, err
	}
	typ := "S3 Object"
	if st.IsDir {
		typ = "S3 Prefix"
	}
	return vpath.ExtendedMetadata{
		Type: typ,
		Details: []vpath.MetadataField{
			{Label: "Bucket", Value: b.bucket},
			{Label: "Key", Value: b.key},
			{Label: "Size", Value: strconv.FormatInt(st.Size, 10)},
			{Label: "Modified", Value: st.ModTime.Format(time.RFC3339)},
		},
		FormatHint: "s3",
	}, nil
}

// invalidateForWrite drops the exact key, all prefix ancestors, and all
// descendant keys from the cache on any write.
func (b *Backend) invalidateForWrite() {
	b.cache.InvalidateKey(b.bucket, b.key)
	if b.key != "" && !strings.Contains(strings.TrimSuffix(b.key, "/"), "/") {
		// top-level key: also drop the bucket-root listing.
		b.cache.InvalidateKey(b.bucket, "")
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// s3GetObject is split out so tests can stub GetObject without a full
// clientAPI method (aws-sdk-go-v2's GetObject has a distinct signature from
// the rest of clientAPI and is only needed for reads).
func s3GetObject(ctx context.Context, client clientAPI, bucket, key string) (*s3.GetObjectOutput, error) {
	type getter interface {
		GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	}
	g, ok := client.(getter)
	if !ok {
		return nil, vpath.NewErrorf(vpath.KindConfigurationError, nil, "s3 client does not support GetObject")
	}
	out, err := g.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, vpath.NewErrorf(vpath.KindNotFound, err, "s3://%s/%s not found", bucket, key)
		}
		return nil, vpath.NewErrorf(vpath.KindIoError, err, "get_object s3://%s/%s", bucket, key)
	}
	return out, nil
}
