package network

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileServer is an in-memory implementation of the upload API.
type fileServer struct {
	mu          sync.Mutex
	token       string
	nextHandle  int
	uploads     map[string][]byte
	stored      map[string][]byte
	names       map[string]string
	endQueries  []string
	chunkStatus int
	endBody     string
}

func newFileServer() *fileServer {
	return &fileServer{
		token:   "secret-token",
		uploads: map[string][]byte{},
		stored:  map[string][]byte{},
		names:   map[string]string{},
		endBody: "true",
	}
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("missing token"))
		return
	}

	switch r.URL.Path {
	case beginUploadPath:
		s.nextHandle++
		handle := fmt.Sprintf("handle-%d", s.nextHandle)
		s.uploads[handle] = []byte{}
		s.names[handle] = r.URL.Query().Get("fileName")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, "%q", handle)
	case uploadChunkPath:
		if s.chunkStatus != 0 {
			w.WriteHeader(s.chunkStatus)
			_, _ = w.Write([]byte("chunk rejected"))
			return
		}
		var chunk mediaChunk
		if err := json.NewDecoder(r.Body).Decode(&chunk); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		existing, ok := s.uploads[chunk.FileHandle]
		if !ok || chunk.StartAt != fmt.Sprintf("%d", len(existing)) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		s.uploads[chunk.FileHandle] = append(existing, data...)
	case endUploadPath:
		s.endQueries = append(s.endQueries, r.URL.RawQuery)
		handle := r.URL.Query().Get("fileHandle")
		if r.URL.Query().Get("quitUpload") == "false" {
			s.stored[s.names[handle]] = s.uploads[handle]
		}
		delete(s.uploads, handle)
		_, _ = w.Write([]byte(s.endBody))
	case uploadFilePath:
		file, header, err := r.FormFile(wholeFileFormField)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.stored[header.Filename] = data
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestAPIClient(url string) *APIClient {
	logger := log.NewLogger()
	return NewAPIClient(NewHTTPClient(logger), url, "secret-token", logger)
}

func TestAPIClient_ChunkedUpload(t *testing.T) {
	server := newFileServer()
	svr := httptest.NewServer(server)
	defer svr.Close()

	client := newTestAPIClient(svr.URL + "/")
	ctx := context.Background()

	handle, err := client.Begin(ctx, "my video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "handle-1", handle)

	require.NoError(t, client.SendChunk(ctx, handle, []byte("hello "), 0))
	require.NoError(t, client.SendChunk(ctx, handle, []byte("world"), 6))

	ack, err := client.End(ctx, handle, 11, false)
	require.NoError(t, err)
	assert.True(t, ack)

	assert.Equal(t, "hello world", string(server.stored["my video.mp4"]))
	assert.Equal(t, []string{"fileHandle=handle-1&fileSize=11&quitUpload=false"}, server.endQueries)
}

func TestAPIClient_EndCancelled(t *testing.T) {
	server := newFileServer()
	svr := httptest.NewServer(server)
	defer svr.Close()

	client := newTestAPIClient(svr.URL)
	ctx := context.Background()

	handle, err := client.Begin(ctx, "file.bin")
	require.NoError(t, err)
	require.NoError(t, client.SendChunk(ctx, handle, []byte("abc"), 0))

	ack, err := client.End(ctx, handle, 10, true)
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Empty(t, server.stored)
	assert.Equal(t, []string{"fileHandle=handle-1&fileSize=10&quitUpload=true"}, server.endQueries)
}

func TestAPIClient_ChunkIsNotRetried(t *testing.T) {
	var chunkRequests int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chunkRequests, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("temporary error"))
	}))
	defer svr.Close()

	client := newTestAPIClient(svr.URL)

	err := client.SendChunk(context.Background(), "handle", []byte("data"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500: temporary error")
	assert.Equal(t, int32(1), atomic.LoadInt32(&chunkRequests))
}

func TestAPIClient_BeginErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "rejected",
			status:  http.StatusForbidden,
			body:    "quota exceeded",
			wantErr: "HTTP 403: quota exceeded",
		},
		{
			name:    "empty handle",
			status:  http.StatusOK,
			body:    "",
			wantErr: "empty upload handle in response",
		},
		{
			name:    "empty json handle",
			status:  http.StatusOK,
			body:    `""`,
			wantErr: "empty upload handle in response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer svr.Close()

			_, err := newTestAPIClient(svr.URL).Begin(context.Background(), "file.bin")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAPIClient_BeginCreated(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`"handle-201"`))
	}))
	defer svr.Close()

	handle, err := newTestAPIClient(svr.URL).Begin(context.Background(), "file.bin")
	require.NoError(t, err)
	assert.Equal(t, "handle-201", handle)
}

func TestAPIClient_UploadWhole(t *testing.T) {
	server := newFileServer()
	svr := httptest.NewServer(server)
	defer svr.Close()

	client := newTestAPIClient(svr.URL)

	ack, err := client.UploadWhole(context.Background(), `report "final".txt`, []byte("plain text content"))
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Equal(t, "plain text content", string(server.stored[`report "final".txt`]))
}

func TestAPIClient_UploadWholeTooLarge(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte("request entity too large"))
	}))
	defer svr.Close()

	ack, err := newTestAPIClient(svr.URL).UploadWhole(context.Background(), "big.bin", []byte("data"))
	require.Error(t, err)
	assert.False(t, ack)
	assert.Contains(t, err.Error(), "HTTP 413")
}

func TestAPIClient_Unauthorized(t *testing.T) {
	svr := httptest.NewServer(newFileServer())
	defer svr.Close()

	logger := log.NewLogger()
	client := NewAPIClient(NewHTTPClient(logger), svr.URL, "wrong-token", logger)

	_, err := client.Begin(context.Background(), "file.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func Test_readAcknowledgement(t *testing.T) {
	tests := []struct {
		body    string
		want    bool
		wantErr bool
	}{
		{body: "", want: true},
		{body: "true", want: true},
		{body: " false\n", want: false},
		{body: `"True"`, want: true},
		{body: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := readAcknowledgement(strings.NewReader(tt.body))
		if (err != nil) != tt.wantErr {
			t.Errorf("readAcknowledgement(%q) error = %v, wantErr %v", tt.body, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("readAcknowledgement(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func Test_parseHandle(t *testing.T) {
	handle, err := parseHandle([]byte("abc-123\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", handle)

	handle, err = parseHandle([]byte(`"abc-123"`))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", handle)

	_, err = parseHandle([]byte(`"abc`))
	assert.Error(t, err)
}

func TestAPIClient_WithUploader(t *testing.T) {
	server := newFileServer()
	svr := httptest.NewServer(server)
	defer svr.Close()

	data := []byte(strings.Repeat("0123456789", 10) + "tail")
	uploader, err := chunkuploader.New(chunkuploader.Config{ChunkSize: 16}, newTestAPIClient(svr.URL), log.NewLogger())
	require.NoError(t, err)

	source := chunkuploader.NewSource(io.NopCloser(strings.NewReader(string(data))), int64(len(data)))
	outcome, err := uploader.RunChunked(context.Background(), source, "numbers.txt", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, chunkuploader.StateCompleted, outcome.State)
	assert.Equal(t, int64(7), outcome.ChunksSent)
	assert.Equal(t, data, server.stored["numbers.txt"])
}

func TestAPIClient_WithUploader_ChunkRejected(t *testing.T) {
	server := newFileServer()
	server.chunkStatus = http.StatusBadGateway
	svr := httptest.NewServer(server)
	defer svr.Close()

	uploader, err := chunkuploader.New(chunkuploader.Config{ChunkSize: 4}, newTestAPIClient(svr.URL), log.NewLogger())
	require.NoError(t, err)

	source := chunkuploader.NewSource(io.NopCloser(strings.NewReader("0123456789")), 10)
	outcome, err := uploader.RunChunked(context.Background(), source, "numbers.txt", nil, nil)

	var transportErr *chunkuploader.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, chunkuploader.StateFailed, outcome.State)
	assert.Empty(t, server.endQueries)
}
