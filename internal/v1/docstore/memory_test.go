package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndLoadRoom(t *testing.T) {
	s := NewMemoryStore()

	room := &Room{
		RoomKey:         "ABC123",
		JoinCode:        "abc-123-join",
		Name:            "Scratchpad",
		OwnerRef:        "user-1",
		Visibility:      VisibilityPublic,
		Capacity:        10,
		DefaultLanguage: "go",
	}
	require.NoError(t, s.CreateRoom(room))

	loaded, err := s.LoadRoom("ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Scratchpad", loaded.Name)
	assert.Nil(t, loaded.DocumentBlob)
}

func TestMemoryStore_LoadRoom_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.LoadRoom("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryStore_FindRoomByJoinCode(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))

	room, err := s.FindRoomByJoinCode("code-1")
	require.NoError(t, err)
	assert.Equal(t, "R1", room.RoomKey)

	_, err = s.FindRoomByJoinCode("nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryStore_SaveRoomRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))

	blob := []byte(`[{"id":{"Seq":1,"NodeID":"a"},"after":{},"char":104,"deleted":false}]`)
	now := time.Now()
	require.NoError(t, s.SaveRoom("R1", blob, "h", "go", ReasonDebounce, now))

	loaded, err := s.LoadRoom("R1")
	require.NoError(t, err)
	assert.Equal(t, blob, loaded.DocumentBlob)
	assert.Equal(t, "h", loaded.FallbackText)
	assert.Equal(t, ReasonDebounce, loaded.LastSaveReason)
}

func TestMemoryStore_SaveRoom_NotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveRoom("missing", nil, "", "go", ReasonDebounce, time.Now())
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryStore_RotateJoinCode(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "old-code", Capacity: 5}))
	require.NoError(t, s.RotateJoinCode("R1", "new-code"))

	_, err := s.FindRoomByJoinCode("old-code")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	room, err := s.FindRoomByJoinCode("new-code")
	require.NoError(t, err)
	assert.Equal(t, "R1", room.RoomKey)
}

func TestMemoryStore_MembershipLifecycle(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))

	now := time.Now()
	require.NoError(t, s.UpsertMember("R1", "user-1", RoleOwner, now))
	require.NoError(t, s.UpsertMember("R1", "user-2", RoleEditor, now))

	count, err := s.CountOnline("R1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.MarkOnline("R1", "user-2", false, now))
	count, err = s.CountOnline("R1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	member, err := s.GetMember("R1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, RoleOwner, member.Role)

	absent, err := s.GetMember("R1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestMemoryStore_SetBanned(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))
	require.NoError(t, s.UpsertMember("R1", "user-1", RoleViewer, time.Now()))

	require.NoError(t, s.SetBanned("R1", "user-1", true))

	member, err := s.GetMember("R1", "user-1")
	require.NoError(t, err)
	assert.True(t, member.Banned)

	// Re-upserting an existing member must not clear the banned flag.
	require.NoError(t, s.UpsertMember("R1", "user-1", RoleViewer, time.Now()))
	member, err = s.GetMember("R1", "user-1")
	require.NoError(t, err)
	assert.True(t, member.Banned)
}

func TestMemoryStore_PurgeStaleGuests(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpsertMember("R1", "guest_1_aaa", RoleEditor, old))
	require.NoError(t, s.MarkOnline("R1", "guest_1_aaa", false, old))
	require.NoError(t, s.UpsertMember("R1", "guest_2_bbb", RoleEditor, time.Now()))
	require.NoError(t, s.MarkOnline("R1", "guest_2_bbb", false, time.Now()))
	require.NoError(t, s.UpsertMember("R1", "user-1", RoleOwner, old))
	require.NoError(t, s.MarkOnline("R1", "user-1", false, old))

	require.NoError(t, s.PurgeStaleGuests("R1", time.Now().Add(-time.Minute)))

	absent, err := s.GetMember("R1", "guest_1_aaa")
	require.NoError(t, err)
	assert.Nil(t, absent, "stale offline guest should be purged")

	stillThere, err := s.GetMember("R1", "guest_2_bbb")
	require.NoError(t, err)
	assert.NotNil(t, stillThere, "guest seen after the cutoff should survive")

	user, err := s.GetMember("R1", "user-1")
	require.NoError(t, err)
	assert.NotNil(t, user, "authenticated members are never swept")
}

func TestMemoryStore_PurgeRoom(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(&Room{RoomKey: "R1", JoinCode: "code-1", Capacity: 5}))
	require.NoError(t, s.UpsertMember("R1", "user-1", RoleOwner, time.Now()))

	require.NoError(t, s.PurgeRoom("R1"))

	_, err := s.LoadRoom("R1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	count, err := s.CountOnline("R1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
