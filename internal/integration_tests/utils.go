package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"finetune-pipeline/internal/core/preprocess"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// completionServer is an OpenAI compatible chat completion endpoint that
// always answers with content.
type completionServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests int
}

func newCompletionServer(t *testing.T, content string) *completionServer {
	cs := &completionServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}

		cs.mu.Lock()
		cs.requests++
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *completionServer) BaseURL() string {
	return cs.URL + "/v1/"
}

func (cs *completionServer) Requests() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests
}

// fakeTrainer stands in for the training script. It copies the job into the
// model directory and reports a fixed result.
const fakeTrainer = `#!/bin/sh
while [ $# -gt 0 ]; do
	case "$1" in
		--job) job="$2"; shift 2 ;;
		--result) result="$2"; shift 2 ;;
		--model-dir) model="$2"; shift 2 ;;
		*) shift ;;
	esac
done
mkdir -p "$model"
echo weights > "$model/model.onnx"
cp "$job" "$model/job.json"
echo '{"global_step": 10, "training_loss": 0.75, "metrics": {"train_loss": 0.75, "train_runtime": 2.5}}' > "$result"
`

func writeTrainerScript(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeTrainer), 0755))
	return path
}

// byteTokenizer maps every byte to a token id. Id 0 is eos and padding.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int32 {
	ids := make([]int32, 0, len(text))
	for _, b := range []byte(text) {
		ids = append(ids, int32(b))
	}
	return ids
}

func (byteTokenizer) Decode(ids []int32, skipSpecialTokens bool) string {
	out := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id == 0 && skipSpecialTokens {
			continue
		}
		out = append(out, byte(id))
	}
	return string(out)
}

func (byteTokenizer) PadID() int32 { return 0 }

func (byteTokenizer) EOSID() int32 { return 0 }

func (byteTokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, preprocess.TokenizerFile), []byte(`{"model": "bytes"}`), 0644)
}

func (byteTokenizer) Close() error { return nil }

// exclaimModel answers every prompt with "!" and then eos.
type exclaimModel struct{}

func (exclaimModel) NextTokenLogits(ctx context.Context, ids []int32) ([]float32, error) {
	logits := make([]float32, 256)
	if ids[len(ids)-1] == '!' {
		logits[0] = 1
	} else {
		logits['!'] = 1
	}
	return logits, nil
}

func (exclaimModel) Close() error { return nil }
