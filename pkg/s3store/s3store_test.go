package s3store

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// memS3 is an in-memory bucket store implementing API.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]map[int32][]byte
	nextID  int
	puts    int
	ranges  int
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, uploads: map[string]map[int32][]byte{}}
}

func objKey(bucket, key *string) string { return aws.ToString(bucket) + "/" + aws.ToString(key) }

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objKey(in.Bucket, in.Key)] = data
	m.puts++
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.uploads[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key, UploadId: aws.String(id)}, nil
}

func (m *memS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, errors.New("no such upload")
	}
	n := aws.ToInt32(in.PartNumber)
	parts[n] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (m *memS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := aws.ToString(in.UploadId)
	parts, ok := m.uploads[id]
	if !ok {
		return nil, errors.New("no such upload")
	}
	nums := make([]int, 0, len(parts))
	for n := range parts {
		nums = append(nums, int(n))
	}
	sort.Ints(nums)
	var buf bytes.Buffer
	for _, n := range nums {
		buf.Write(parts[int32(n)])
	}
	m.objects[objKey(in.Bucket, in.Key)] = buf.Bytes()
	delete(m.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *memS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objKey(in.Bucket, in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	m.ranges++

	start, end := int64(0), int64(len(data))-1
	if r := aws.ToString(in.Range); r != "" {
		spec := strings.TrimPrefix(r, "bytes=")
		lo, hi, _ := strings.Cut(spec, "-")
		start, _ = strconv.ParseInt(lo, 10, 64)
		if hi != "" {
			end, _ = strconv.ParseInt(hi, 10, 64)
		}
		end = min(end, int64(len(data))-1)
	}
	body := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, len(data))),
	}, nil
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate random data: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return data
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri     string
		want    Location
		wantErr bool
	}{
		{uri: "s3://results/audits/2.moray.out", want: Location{"results", "audits/2.moray.out"}},
		{uri: "s3://results/audits/", want: Location{"results", "audits/"}},
		{uri: "s3://results", want: Location{"results", ""}},
		{uri: "https://results/key", wantErr: true},
		{uri: "s3:///key", wantErr: true},
		{uri: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseS3URI = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLocationObjectFor(t *testing.T) {
	tests := []struct {
		loc  Location
		want string
	}{
		{Location{"b", "audits/"}, "s3://b/audits/2.moray.1.out"},
		{Location{"b", ""}, "s3://b/2.moray.1.out"},
		{Location{"b", "audits/latest.out"}, "s3://b/audits/latest.out"},
	}
	for _, tt := range tests {
		if got := tt.loc.ObjectFor("/tmp/out/2.moray.1.out").String(); got != tt.want {
			t.Errorf("%+v.ObjectFor = %q, want %q", tt.loc, got, tt.want)
		}
	}
}

func TestDefaultTransferConfig(t *testing.T) {
	cfg := DefaultTransferConfig()
	if cfg.Concurrency < 4 || cfg.Concurrency > 16 {
		t.Errorf("Concurrency = %d, want within [4, 16]", cfg.Concurrency)
	}
	if cfg.PartSize != 16*1024*1024 {
		t.Errorf("PartSize = %d, want 16MB", cfg.PartSize)
	}
	if got := (TransferConfig{}).withDefaults(); got != cfg {
		t.Errorf("withDefaults = %+v, want %+v", got, cfg)
	}
}

func TestUploadDownloadSmall(t *testing.T) {
	mem := newMemS3()
	store := New(mem, TransferConfig{Concurrency: 2})
	dir := t.TempDir()
	ctx := context.Background()

	src := filepath.Join(dir, "2.moray.77.out")
	data := writeRandomFile(t, src, 4096)

	res, err := store.UploadFile(ctx, src, Location{Bucket: "results", Key: "audits/"})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if res.Location.Key != "audits/2.moray.77.out" || res.Bytes != 4096 {
		t.Errorf("result = %+v", res)
	}
	if mem.puts != 1 {
		t.Errorf("puts = %d, want a single PutObject", mem.puts)
	}

	dst := filepath.Join(dir, "copy")
	if _, err := store.DownloadFile(ctx, res.Location, dst); err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded data doesn't match")
	}
}

func TestUploadDownloadMultipart(t *testing.T) {
	mem := newMemS3()
	store := New(mem, TransferConfig{Concurrency: 3, PartSize: 5 * 1024 * 1024})
	dir := t.TempDir()
	ctx := context.Background()

	src := filepath.Join(dir, "filter")
	data := writeRandomFile(t, src, 11*1024*1024)

	dst := Location{Bucket: "filters", Key: "stor3.bloom"}
	if _, err := store.UploadFile(ctx, src, dst); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if mem.puts != 0 {
		t.Errorf("puts = %d, want multipart only", mem.puts)
	}
	if !bytes.Equal(mem.objects["filters/stor3.bloom"], data) {
		t.Fatal("uploaded object doesn't match")
	}

	copyPath := filepath.Join(dir, "copy")
	res, err := store.DownloadFile(ctx, dst, copyPath)
	if err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	if res.Bytes != int64(len(data)) {
		t.Errorf("downloaded %d bytes, want %d", res.Bytes, len(data))
	}
	if mem.ranges < 3 {
		t.Errorf("ranged gets = %d, want at least 3", mem.ranges)
	}
	got, err := os.ReadFile(copyPath)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded data doesn't match")
	}
}

func TestDownloadMissingRemovesFile(t *testing.T) {
	store := New(newMemS3(), TransferConfig{})
	dst := filepath.Join(t.TempDir(), "missing")

	if _, err := store.DownloadFile(context.Background(), Location{"b", "nope"}, dst); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("partial download should be removed")
	}
}

func TestUploadMissingFile(t *testing.T) {
	store := New(newMemS3(), TransferConfig{})
	if _, err := store.UploadFile(context.Background(), "/nonexistent/file", Location{"b", "k"}); err == nil {
		t.Error("expected error for missing local file")
	}
}

func TestUploadIntegration(t *testing.T) {
	if os.Getenv("AWS_INTEGRATION_TEST") == "" {
		t.Skip("set AWS_INTEGRATION_TEST and AWS_TEST_URI to run")
	}
	uri := os.Getenv("AWS_TEST_URI")
	loc, err := ParseS3URI(uri)
	if err != nil {
		t.Fatalf("AWS_TEST_URI: %v", err)
	}

	ctx := context.Background()
	client, err := NewS3Client(ctx)
	if err != nil {
		t.Fatalf("NewS3Client failed: %v", err)
	}
	store := New(client, DefaultTransferConfig())

	src := filepath.Join(t.TempDir(), "integration.out")
	data := writeRandomFile(t, src, 1024)
	res, err := store.UploadFile(ctx, src, loc)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "back")
	if _, err := store.DownloadFile(ctx, res.Location, dst); err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, data) {
		t.Error("round trip mismatch")
	}
}
