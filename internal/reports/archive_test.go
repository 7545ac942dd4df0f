package reports

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyallcooper/scanstream/internal/types"
)

type memUploader struct {
	objects     map[string][]byte
	contentType string
	err         error
}

func (m *memUploader) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[bucket+"/"+key] = data
	m.contentType = contentType
	return nil
}

func TestArchive(t *testing.T) {
	up := &memUploader{}
	a := New(up, "scans")

	result := &types.Result{URL: "https://example.com", Score: 88, TotalIssues: 1, Findings: []types.Finding{
		{ID: "f1", RuleID: "image-alt", Impact: types.ImpactCritical},
	}}
	key, err := a.Archive(context.Background(), "run-1", result)
	require.NoError(t, err)
	assert.Equal(t, "reports/run-1.json", key)
	assert.Equal(t, "application/json", up.contentType)

	var stored types.Result
	require.NoError(t, json.Unmarshal(up.objects["scans/reports/run-1.json"], &stored))
	assert.Equal(t, *result, stored)
}

func TestArchiveUploadError(t *testing.T) {
	a := New(&memUploader{err: errors.New("access denied")}, "scans")

	_, err := a.Archive(context.Background(), "run-1", &types.Result{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports/run-1.json")
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Client(t *testing.T) {
	c, err := NewS3Client("localhost:9000", "key", "secret", false)
	require.NoError(t, err)
	assert.NotNil(t, c)
}
