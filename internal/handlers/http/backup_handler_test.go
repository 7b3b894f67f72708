package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshpad/internal/core/domain"
	snapshots "meshpad/internal/infrastructure/backup"
	"meshpad/internal/infrastructure/middleware"
	"meshpad/internal/infrastructure/repositories/memory"
	"meshpad/pkg/backup"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func newBackupAPI(t *testing.T) (*gin.Engine, func() error, func() (*domain.Room, error)) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t).Sugar()

	storage, err := backup.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	service := backup.NewService(storage, "1")

	rooms := memory.NewMemoryRoomRepository()
	room := &domain.Room{
		SessionID:  "alpha1",
		HostPeerID: "p1",
		MaxPeers:   4,
		CreatedAt:  time.Now(),
		Participants: []domain.Participant{
			{PeerID: "p1", Name: "ada", IsHost: true, JoinedAt: time.Now()},
		},
	}
	if err := rooms.Create(context.Background(), room); err != nil {
		t.Fatalf("seed room: %v", err)
	}

	scheduler := snapshots.NewScheduler(service, rooms, snapshots.Config{}, log)
	restoreSvc := snapshots.NewRestoreService(service, rooms, log)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(log))

	handler := NewBackupHandler(service, scheduler, restoreSvc)
	router.GET("/api/v1/backups", handler.ListSnapshots)
	router.POST("/api/v1/backups", handler.CreateSnapshot)
	router.POST("/api/v1/backups/restore", handler.RestoreSnapshot)

	dropRoom := func() error { return rooms.Delete(context.Background(), "alpha1") }
	getRoom := func() (*domain.Room, error) { return rooms.GetByID(context.Background(), "alpha1") }
	return router, dropRoom, getRoom
}

func TestCreateAndListSnapshots(t *testing.T) {
	router, _, _ := newBackupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backups", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if !strings.HasPrefix(created.Name, "snapshot-") {
		t.Errorf("unexpected snapshot name %q", created.Name)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/backups", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed struct {
		Snapshots []string `json:"snapshots"`
		Count     int      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if listed.Count != 1 || len(listed.Snapshots) != 1 {
		t.Errorf("expected exactly one snapshot, got %+v", listed)
	}
}

func TestRestoreSnapshotBringsRoomBack(t *testing.T) {
	router, dropRoom, getRoom := newBackupAPI(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/backups", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("snapshot failed: %d", w.Code)
	}
	var created struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("bad response: %v", err)
	}

	if err := dropRoom(); err != nil {
		t.Fatalf("drop room: %v", err)
	}

	body := `{"name":"` + created.Name + `"}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backups/restore", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var restored struct {
		Restored int `json:"restored"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &restored); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if restored.Restored != 1 {
		t.Errorf("expected 1 restored room, got %d", restored.Restored)
	}

	room, err := getRoom()
	if err != nil {
		t.Fatalf("room not restored: %v", err)
	}
	if len(room.Participants) != 1 || room.Participants[0].Name != "ada" {
		t.Errorf("restored room lost participants: %+v", room.Participants)
	}
}

func TestRestoreRejectsBadSnapshotName(t *testing.T) {
	router, _, _ := newBackupAPI(t)

	body := `{"name":"../../etc/passwd"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backups/restore", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
