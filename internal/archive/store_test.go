package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/llm"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

func testSummary() call.Summary {
	start := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	return call.Summary{
		CallID:    "call-1770908400-ab12cd34",
		ChannelID: "chan-1",
		Direction: call.Outbound,
		Number:    "5511912345678",
		PromptID:  3,
		Status:    "completed",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
		History: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Olá!"},
			{Role: llm.RoleUser, Content: "meu email é ana@example.com"},
		},
	}
}

func TestStore_Archive(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	archivedAt := time.Date(2026, 2, 12, 15, 2, 0, 0, time.UTC)
	store.now = func() time.Time { return archivedAt }

	require.NoError(t, store.Archive(context.Background(), testSummary()))

	// transcript + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "calls/v1/by-date/2026/02/12/call-1770908400-ab12cd34.json", mock.putCalls[0].key)

	var decoded CallRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "outbound", decoded.Direction)
	assert.Equal(t, HashPhone("5511912345678"), decoded.PhoneHash)
	assert.InDelta(t, 90, decoded.DurationSeconds, 0.001)
	assert.Equal(t, 2, decoded.MessageCount)
	assert.Equal(t, "meu email é [EMAIL]", decoded.Messages[1].Content)
	assert.NotContains(t, string(mock.putCalls[0].body), "5511912345678")

	assert.Equal(t, "calls/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "call-1770908400-ab12cd34", entry.CallID)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.Archive(context.Background(), testSummary()))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{CallID: "call-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{CallID: "call-2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureIsReturned(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("AccessDenied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{CallID: "call-1"})
	require.Error(t, err)
	assert.Empty(t, mock.putCalls)

	// the transcript still lands when only the manifest fails
	require.NoError(t, store.Archive(context.Background(), testSummary()))
	assert.Len(t, mock.putCalls, 1)
}
