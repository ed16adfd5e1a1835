package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/roomactor"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, docstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := docstore.NewMemoryStore()
	reg := registry.New(store, nil, roomactor.DefaultConfig())
	admissionSvc := admission.NewService(store, &auth.MockValidator{}, reg)
	healthHandler := health.NewHandler(nil, &testChecker{})

	router := NewRouter(Deps{
		Store:           store,
		Admission:       admissionSvc,
		Registry:        reg,
		RateLimiter:     nil,
		Health:          healthHandler,
		AllowOrigins:    []string{"http://localhost:3000"},
		CapacityDefault: 12,
	})
	return router, store
}

type testChecker struct{}

func (testChecker) Check(ctx context.Context) string { return "healthy" }

func TestCreateRoom_ReturnsRoomKeyAndJoinCode(t *testing.T) {
	router, store := newTestRouter(t)

	body, _ := json.Marshal(createRoomRequest{Name: "standup notes", Visibility: "public"})
	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RoomKey)
	assert.NotEmpty(t, resp.JoinCode)
	assert.Equal(t, "public", resp.Visibility)
	assert.Equal(t, 12, resp.Capacity, "omitted capacity should fall back to the configured default")

	room, err := store.LoadRoom(resp.RoomKey)
	require.NoError(t, err)
	assert.Equal(t, resp.OwnerRef, room.OwnerRef)
}

func TestCreateRoom_OutOfRangeCapacityFallsBackToDefault(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(createRoomRequest{Name: "overbooked", Visibility: "public", Capacity: 99})
	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.Capacity)
}

func TestDeleteRoom_RequiresOwner(t *testing.T) {
	router, store := newTestRouter(t)

	room := &docstore.Room{RoomKey: "room1", JoinCode: "join1", OwnerRef: "dev-user-123", Capacity: 10}
	require.NoError(t, store.CreateRoom(room))

	req := httptest.NewRequest(http.MethodDelete, "/rooms/room1", nil)
	req.Header.Set("Authorization", "Bearer "+devToken())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := store.LoadRoom("room1")
	assert.ErrorIs(t, err, docstore.ErrRoomNotFound)
}

func TestDeleteRoom_NonOwnerForbidden(t *testing.T) {
	router, store := newTestRouter(t)

	room := &docstore.Room{RoomKey: "room2", JoinCode: "join2", OwnerRef: "someone-else", Capacity: 10}
	require.NoError(t, store.CreateRoom(room))

	req := httptest.NewRequest(http.MethodDelete, "/rooms/room2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	_, err := store.LoadRoom("room2")
	assert.NoError(t, err)
}

func TestBanMember_RequiresOwner(t *testing.T) {
	router, store := newTestRouter(t)

	room := &docstore.Room{RoomKey: "room3", JoinCode: "join3", OwnerRef: "dev-user-123", Capacity: 10}
	require.NoError(t, store.CreateRoom(room))
	require.NoError(t, store.UpsertMember("room3", "bad-actor", docstore.RoleViewer, time.Now()))

	banned := true
	body, _ := json.Marshal(banMemberRequest{Banned: &banned})

	reqForbidden := httptest.NewRequest(http.MethodPost, "/rooms/room3/members/bad-actor/ban", bytes.NewReader(body))
	reqForbidden.Header.Set("Content-Type", "application/json")
	wForbidden := httptest.NewRecorder()
	router.ServeHTTP(wForbidden, reqForbidden)
	assert.Equal(t, http.StatusForbidden, wForbidden.Code)

	req := httptest.NewRequest(http.MethodPost, "/rooms/room3/members/bad-actor/ban", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+devToken())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	member, err := store.GetMember("room3", "bad-actor")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.True(t, member.Banned)
}

// devToken returns a minimal unsigned JWT whose payload carries
// sub=dev-user-123, matching auth.MockValidator's fallback subject so tests
// can exercise the owner-only path without a real signing key.
func devToken() string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"dev-user-123"}`))
	return header + "." + payload + ".sig"
}
