package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartetl/internal/mapping"
	"smartetl/internal/pipeline"
	"smartetl/internal/schema"
	"smartetl/internal/storage"
	filesink "smartetl/internal/storage/file"
)

const uploadCSV = "Pin,State,Male_0_5,Female_0_5,date\n" +
	"110001,Delhi,3,4,2024-01-15\n" +
	"110001,Delhi,1,1,2024-01-15\n" +
	"7102,Bihar,2,2,2024-01-15\n"

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	s := NewServer(Config{
		UploadDir: filepath.Join(dir, "uploads"),
		Storage:   storage.Config{Kind: "file", Dir: out, AutoCreate: true},
		BatchSize: 1,
	})
	return s, out
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestInfer_JSON(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name    string
		headers []string
		valid   bool
		missing []string
	}{
		{"mapped", []string{"Pin", "State", "Male_0_5"}, true, []string{}},
		{"no identifier", []string{"Region", "Kids"}, false, []string{"PIN Code"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, _ := json.Marshal(inferRequest{Headers: tc.headers, DataType: "biometric"})
			rec := do(t, s.Handler(), http.MethodPost, "/api/mappings/infer", "application/json", bytes.NewBuffer(b))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var got inferResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, mapping.MethodHeuristic, got.Method)
			assert.Equal(t, tc.valid, got.Validation.Valid)
			assert.Equal(t, tc.missing, got.Validation.MissingRequired)
			assert.Equal(t, mapping.Fingerprint(tc.headers), got.Fingerprint)
		})
	}
}

func TestInfer_Multipart(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"data_type": "enrollment"}, "upload.csv", uploadCSV)
	rec := do(t, s.Handler(), http.MethodPost, "/api/mappings/infer", ct, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got inferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"Pin", "State", "Male_0_5", "Female_0_5", "date"}, got.Headers)
	assert.Equal(t, []string{"Pin"}, got.Config.Sources(schema.FieldPincode))
	assert.Equal(t, []string{"Male_0_5", "Female_0_5"}, got.Config.Sources(schema.FieldAge0to5))
	assert.True(t, got.Validation.Valid)
}

func TestInfer_BadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/mappings/infer", "application/json", bytes.NewBufferString("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "decode request")
}

func waitTerminal(t *testing.T, h http.Handler, id string) pipeline.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(t, h, http.MethodGet, "/api/imports/"+id, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var snap pipeline.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("import %s did not finish", id)
	return pipeline.Snapshot{}
}

func TestImport_InferredMapping(t *testing.T) {
	s, out := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"data_type": "biometric"}, "upload.csv", uploadCSV)
	rec := do(t, s.Handler(), http.MethodPost, "/api/imports", ct, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "biometric", started.DataType)
	assert.Equal(t, mapping.MethodHeuristic, started.Method)

	snap := waitTerminal(t, s.Handler(), started.ID)
	require.Equal(t, pipeline.StateComplete, snap.State)
	require.NotNil(t, snap.Result)
	assert.EqualValues(t, 3, snap.Result.RowsScanned)
	assert.EqualValues(t, 2, snap.Result.RecordsWritten)
	assert.Equal(t, 2, snap.Result.Batches)
	assert.InDelta(t, 100, snap.Progress.Percent, 1e-9)

	b, err := os.ReadFile(filepath.Join(out, filesink.Name(started.ID, "biometric")))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "007102,2024-01-15,Bihar,"), lines[1])
}

func TestImport_ExplicitMappingMissingIdentifier(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"mapping": `{"state": {"sources": ["State"]}, "age_0_5": {"sources": ["Male_0_5"]}}`,
	}, "upload.csv", uploadCSV)
	rec := do(t, s.Handler(), http.MethodPost, "/api/imports", ct, body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"PIN Code"}, got.MissingRequired)

	entries, err := os.ReadDir(s.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the upload is removed when the import is refused")
}

func TestImport_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, "/api/imports", "application/json", bytes.NewBufferString("{}"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	body, ct := multipartBody(t, map[string]string{"data_type": "enrollment"}, "", "")
	rec = do(t, s.Handler(), http.MethodPost, "/api/imports", ct, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "form file")

	rec = do(t, s.Handler(), http.MethodGet, "/api/imports/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/imports/nope/abort", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImport_AbortFinishedIsHarmless(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := multipartBody(t, nil, "upload.csv", uploadCSV)
	rec := do(t, s.Handler(), http.MethodPost, "/api/imports", ct, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	waitTerminal(t, s.Handler(), started.ID)

	rec = do(t, s.Handler(), http.MethodPost, "/api/imports/"+started.ID+"/abort", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, pipeline.StateComplete, snap.State)
}
