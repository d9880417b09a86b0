package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"peoplecounter/internal/config"
	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/models"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlite"
	"peoplecounter/internal/route"
	"peoplecounter/internal/service"
	"peoplecounter/internal/service/websocket"
)

// ========================================
// Test Setup Helpers
// ========================================

type stubDetector struct {
	detections []models.Detection
}

func (s *stubDetector) Detect(image []byte, mode string, conf float64) ([]models.Detection, error) {
	return s.detections, nil
}

func (s *stubDetector) Device() string {
	return "cpu"
}

type stubRenderer struct{}

func (stubRenderer) Annotate(image []byte, detections []models.Detection, ext string) ([]byte, string, error) {
	return append([]byte("annotated:"), image...), ext, nil
}

func onePerson() []models.Detection {
	score := 0.91
	return []models.Detection{
		{ID: 1, Score: &score, Box: models.BoundingBox{10, 10, 60, 120}},
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
}

func setupServer(t *testing.T, cfg *config.Config, withStore bool) (*httptest.Server, *sqlite.ImageRepository) {
	t.Helper()

	log := testLogger(t)

	var repo *sqlite.ImageRepository
	if withStore {
		db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("Failed to create test database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		repo = sqlite.NewImageRepository(db)
	}

	detectors := []service.Detector{&stubDetector{detections: onePerson()}}

	// A typed-nil *sqlite.ImageRepository inside the interface would defeat
	// the nil checks, so only wrap a real repository.
	var store repository.ImageRepository
	if repo != nil {
		store = repo
	}

	pipeline := service.NewPipeline(detectors, stubRenderer{}, store, nil, "", log)
	router := route.SetupRoutes(pipeline, store, websocket.NewHub(log), cfg, log)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, repo
}

func multipartUpload(t *testing.T, url, filename string, content []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	writer.Close()

	resp, err := http.Post(url, writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	return resp
}

// ========================================
// Helper Function Tests
// ========================================

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
	}

	for _, tt := range tests {
		if got := atoiDefault(tt.input, tt.def); got != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, got, tt.expected)
		}
	}
}

// ========================================
// Process Endpoint Tests
// ========================================

func TestProcess_FreshUpload(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	resp := multipartUpload(t, server.URL+"/api/process?mode=seg&conf=0.3", "plaza.jpg", []byte("image-bytes"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Duplicate"); got != "false" {
		t.Errorf("Expected X-Duplicate false, got %q", got)
	}
	if got := resp.Header.Get("X-Count"); got != "1" {
		t.Errorf("Expected X-Count 1, got %q", got)
	}
	if resp.Header.Get("X-Image-Id") == "" {
		t.Error("Expected a stored image id")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
}

func TestProcess_DuplicateUpload(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	first := multipartUpload(t, server.URL+"/api/process", "plaza.jpg", []byte("same-bytes"))
	first.Body.Close()
	firstID := first.Header.Get("X-Image-Id")

	second := multipartUpload(t, server.URL+"/api/process", "other-name.jpg", []byte("same-bytes"))
	defer second.Body.Close()

	if got := second.Header.Get("X-Duplicate"); got != "true" {
		t.Errorf("Expected X-Duplicate true, got %q", got)
	}
	if got := second.Header.Get("X-Image-Id"); got != firstID {
		t.Errorf("Expected id %q, got %q", firstID, got)
	}
	if got := second.Header.Get("X-Count"); got != "1" {
		t.Errorf("Expected X-Count 1 from stored metadata, got %q", got)
	}
}

func TestProcess_EmptyFile(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	resp := multipartUpload(t, server.URL+"/api/process", "empty.jpg", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}

	var errResp dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Code != "empty_input" {
		t.Errorf("Expected code empty_input, got %q", errResp.Code)
	}
}

func TestProcess_InvalidParameters(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	tests := []struct {
		name  string
		query string
	}{
		{"bad mode", "?mode=outline"},
		{"conf too high", "?conf=1.5"},
		{"conf not a number", "?conf=abc"},
		{"conf NaN", "?conf=NaN"},
		{"conf infinite", "?conf=Inf"},
	}

	for _, tt := range tests {
		resp := multipartUpload(t, server.URL+"/api/process"+tt.query, "x.jpg", []byte("bytes"))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, resp.StatusCode)
		}
	}
}

func TestProcess_DegradedMode(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, false)

	resp := multipartUpload(t, server.URL+"/api/process", "x.jpg", []byte("bytes"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 in degraded mode, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Duplicate"); got != "false" {
		t.Errorf("Expected X-Duplicate false, got %q", got)
	}
	if got := resp.Header.Get("X-Image-Id"); got != "" {
		t.Errorf("Expected empty X-Image-Id, got %q", got)
	}
}

// ========================================
// Image Retrieval Tests
// ========================================

func TestGetImage(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	upload := multipartUpload(t, server.URL+"/api/process", "plaza.jpg", []byte("image-bytes"))
	upload.Body.Close()
	id := upload.Header.Get("X-Image-Id")

	resp, err := http.Get(server.URL + "/api/images/" + id)
	if err != nil {
		t.Fatalf("Get request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if !strings.HasPrefix(body.String(), "annotated:") {
		t.Errorf("Expected stored annotated bytes, got %q", body.String())
	}
}

func TestGetImage_NotFound(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	resp, err := http.Get(server.URL + "/api/images/9999")
	if err != nil {
		t.Fatalf("Get request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestGetImage_StoreUnavailable(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, false)

	resp, err := http.Get(server.URL + "/api/images/1")
	if err != nil {
		t.Fatalf("Get request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}

	var errResp dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Code != "store_unavailable" {
		t.Errorf("Expected code store_unavailable, got %q", errResp.Code)
	}
}

func TestPatchMetadata_StoreUnavailable(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, false)

	resp := patchRequest(t, server.URL+"/api/images/1", map[string]any{"title": "Plaza"}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}

	var errResp dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Code != "store_unavailable" {
		t.Errorf("Expected code store_unavailable, got %q", errResp.Code)
	}
}

func TestListImages(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	for _, content := range []string{"bytes-a", "bytes-b", "bytes-c"} {
		resp := multipartUpload(t, server.URL+"/api/process", "img.jpg", []byte(content))
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/api/images?page=1&per_page=2")
	if err != nil {
		t.Fatalf("List request failed: %v", err)
	}
	defer resp.Body.Close()

	var list dto.ImageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if len(list.Images) != 2 {
		t.Errorf("Expected 2 images on page 1, got %d", len(list.Images))
	}
	if list.Page != 1 || list.PerPage != 2 {
		t.Errorf("Unexpected pagination echo: page=%d per_page=%d", list.Page, list.PerPage)
	}
	for _, img := range list.Images {
		if img.Metadata["count"] != float64(1) {
			t.Errorf("Expected count 1 in summary metadata, got %v", img.Metadata["count"])
		}
	}
}

func TestListImages_EmptyWithoutStore(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, false)

	resp, err := http.Get(server.URL + "/api/images")
	if err != nil {
		t.Fatalf("List request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var list dto.ImageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if len(list.Images) != 0 {
		t.Errorf("Expected empty listing without store, got %d entries", len(list.Images))
	}
}

// ========================================
// Event Feed Tests
// ========================================

func TestEvents_DeliversProcessEvents(t *testing.T) {
	log := testLogger(t)
	hub := websocket.NewHub(log)
	go hub.Run()

	detectors := []service.Detector{&stubDetector{detections: onePerson()}}
	pipeline := service.NewPipeline(detectors, stubRenderer{}, nil, hub, "", log)
	router := route.SetupRoutes(pipeline, nil, hub, &config.Config{DefaultConfidence: 0.25}, log)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to event feed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Event client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	upload := multipartUpload(t, server.URL+"/api/process", "plaza.jpg", []byte("image-bytes"))
	upload.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var event websocket.ProcessEvent
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.Input != "plaza.jpg" {
		t.Errorf("Expected input plaza.jpg, got %q", event.Input)
	}
	if event.Count == nil || *event.Count != 1 {
		t.Errorf("Expected count 1, got %v", event.Count)
	}
}

// ========================================
// Metadata Patch Tests
// ========================================

func patchRequest(t *testing.T, url string, payload map[string]any, apiKey string) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}

	req, err := http.NewRequest(http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build patch request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Patch request failed: %v", err)
	}
	return resp
}

func TestPatchMetadata_MergesKeys(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	upload := multipartUpload(t, server.URL+"/api/process", "plaza.jpg", []byte("image-bytes"))
	upload.Body.Close()
	id := upload.Header.Get("X-Image-Id")

	resp := patchRequest(t, server.URL+"/api/images/"+id, map[string]any{"title": "Plaza"}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var patched dto.PatchMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&patched); err != nil {
		t.Fatalf("Failed to decode patch response: %v", err)
	}
	if patched.Metadata["title"] != "Plaza" {
		t.Errorf("Expected title Plaza, got %v", patched.Metadata["title"])
	}
	if patched.Metadata["mode"] != "seg" {
		t.Errorf("Expected prior mode key untouched, got %v", patched.Metadata["mode"])
	}
	if patched.Metadata["count"] != float64(1) {
		t.Errorf("Expected prior count key untouched, got %v", patched.Metadata["count"])
	}
}

func TestPatchMetadata_NotFound(t *testing.T) {
	server, _ := setupServer(t, &config.Config{DefaultConfidence: 0.25}, true)

	resp := patchRequest(t, server.URL+"/api/images/4242", map[string]any{"title": "Plaza"}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestPatchMetadata_RequiresAPIKey(t *testing.T) {
	cfg := &config.Config{DefaultConfidence: 0.25, APIKey: "secret"}
	server, _ := setupServer(t, cfg, true)

	upload := multipartUpload(t, server.URL+"/api/process", "plaza.jpg", []byte("image-bytes"))
	upload.Body.Close()
	id := upload.Header.Get("X-Image-Id")

	denied := patchRequest(t, server.URL+"/api/images/"+id, map[string]any{"title": "Plaza"}, "wrong")
	denied.Body.Close()
	if denied.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got %d", denied.StatusCode)
	}

	allowed := patchRequest(t, server.URL+"/api/images/"+id, map[string]any{"title": "Plaza"}, "secret")
	defer allowed.Body.Close()
	if allowed.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with correct key, got %d", allowed.StatusCode)
	}
}
