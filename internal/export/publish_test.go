package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"ev-pipeline/internal/config"
)

type memPublisher struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (m *memPublisher) Upload(_ context.Context, key string, body io.ReadSeeker) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]string)
	}
	m.objects[key] = string(data)
	return nil
}

func (m *memPublisher) URL(key string) string { return "mem://bucket/" + key }

func (m *memPublisher) keys() []string {
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func strPtr(s string) *string { return &s }

func TestPublishPath_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vehicles_by_city.csv")
	require.NoError(t, os.WriteFile(path, []byte("city,count\nSeattle,2\n"), 0o644))

	p := &memPublisher{}
	url, err := PublishPath(context.Background(), p, path, "/ev/daily/")
	require.NoError(t, err)
	assert.Equal(t, "mem://bucket/ev/daily/vehicles_by_city.csv", url)
	assert.Equal(t, "city,count\nSeattle,2\n", p.objects["ev/daily/vehicles_by_city.csv"])
}

func TestPublishPath_Directory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "counts_by_model_year")
	for _, year := range []string{"2019", "2022"} {
		part := filepath.Join(root, "model_year="+year)
		require.NoError(t, os.MkdirAll(part, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(part, "data_0.parquet"), []byte(year), 0o644))
	}

	p := &memPublisher{}
	url, err := PublishPath(context.Background(), p, root, "")
	require.NoError(t, err)
	assert.Equal(t, "mem://bucket/counts_by_model_year", url)
	assert.Equal(t, []string{
		"counts_by_model_year/model_year=2019/data_0.parquet",
		"counts_by_model_year/model_year=2022/data_0.parquet",
	}, p.keys())
}

func TestPublishPath_Errors(t *testing.T) {
	t.Run("missing_path", func(t *testing.T) {
		_, err := PublishPath(context.Background(), &memPublisher{}, filepath.Join(t.TempDir(), "nope.csv"), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("upload_failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "r.csv")
		require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))
		boom := errors.New("access denied")

		_, err := PublishPath(context.Background(), &memPublisher{err: boom}, path, "p")
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "upload p/r.csv")
	})
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"", "a.csv"}, "a.csv"},
		{[]string{"/ev/", "a.csv"}, "ev/a.csv"},
		{[]string{"ev", "dir", "x=1/f.parquet"}, "ev/dir/x=1/f.parquet"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinKey(tt.parts...))
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("a/b.CSV"))
	assert.Equal(t, "application/vnd.apache.parquet", contentType("a/data_0.parquet"))
	assert.Equal(t, "application/octet-stream", contentType("a/b"))
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		p, err := NewPublisher(ctx, config.PublishConfig{})
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("s3", func(t *testing.T) {
		p, err := NewPublisher(ctx, config.PublishConfig{
			Target:     config.PublishS3,
			Bucket:     "ev-reports",
			S3KeyID:    strPtr("key"),
			S3Secret:   strPtr("secret"),
			S3Endpoint: strPtr("fsn1.your-objectstorage.com"),
		})
		require.NoError(t, err)
		require.IsType(t, &S3Publisher{}, p)
		assert.Equal(t, "s3://ev-reports/ev/a.csv", p.URL("ev/a.csv"))
	})

	t.Run("s3_without_keys", func(t *testing.T) {
		_, err := NewPublisher(ctx, config.PublishConfig{Target: config.PublishS3, Bucket: "b"})
		require.Error(t, err)
	})

	t.Run("azure_shared_key", func(t *testing.T) {
		p, err := NewPublisher(ctx, config.PublishConfig{
			Target:           config.PublishAzure,
			Bucket:           "reports",
			AzureAccountName: "evdata",
			AzureAccountKey:  "c2VjcmV0LWtleQ==",
		})
		require.NoError(t, err)
		require.IsType(t, &AzurePublisher{}, p)
		assert.Equal(t, "https://evdata.blob.core.windows.net/reports/a.csv", p.URL("a.csv"))
	})

	t.Run("unknown_target", func(t *testing.T) {
		_, err := NewPublisher(ctx, config.PublishConfig{Target: "ftp", Bucket: "b"})
		require.Error(t, err)
	})
}

func TestNewGCSPublisher(t *testing.T) {
	p, err := NewGCSPublisher(context.Background(), "ev-reports", option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, "gs://ev-reports/ev/a.csv", p.URL("ev/a.csv"))
}
