// Package admission resolves connecting clients to principals and decides
// whether they may join or act on a room. It never mutates RoomActor state;
// every decision here is synchronous relative to its caller.
package admission

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidCredential is returned by Resolve when a token is present but
// malformed. An absent token is never an error; it resolves to a guest.
var ErrInvalidCredential = errors.New("admission: invalid credential")

// Kind is the closed set of principal kinds.
type Kind string

const (
	KindUser  Kind = "user"
	KindGuest Kind = "guest"
)

// Principal is the acting identity of a session: either an authenticated
// user or a synthesized guest. Permission checks dispatch on Kind, never on
// string fields.
type Principal struct {
	ID          string
	DisplayName string
	Kind        Kind
}

// IsGuest reports whether the principal is an ephemeral guest.
func (p Principal) IsGuest() bool { return p.Kind == KindGuest }

// Credentials is what a client presents on Hello: an optional bearer token
// and, for guests, a client-supplied display name.
type Credentials struct {
	Token       string
	DisplayName string
}

// TokenValidator validates a bearer token and returns its claims. Satisfied
// by *auth.Validator and auth.MockValidator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// JoinOutcome is the closed set of AuthorizeJoin results.
type JoinOutcome string

const (
	OutcomeAdmitted         JoinOutcome = "admitted"
	OutcomePasswordRequired JoinOutcome = "password_required"
	OutcomePasswordInvalid  JoinOutcome = "password_invalid"
	OutcomeRoomFull         JoinOutcome = "room_full"
	OutcomeRoomNotFound     JoinOutcome = "room_not_found"
	OutcomeBanned           JoinOutcome = "banned"
)

// JoinDecision is the result of AuthorizeJoin. Role is only meaningful when
// Outcome is OutcomeAdmitted.
type JoinDecision struct {
	Outcome  JoinOutcome
	Role     docstore.Role
	Capacity int
}

// Action is the closed set of mutating operations AuthorizeAction guards.
type Action string

const (
	ActionEdit            Action = "edit"
	ActionDeleteRoom      Action = "delete_room"
	ActionChangeSettings  Action = "change_settings"
	ActionInvite          Action = "invite"
	ActionRotateJoinCode  Action = "rotate_join_code"
	ActionBanMember       Action = "ban_member"
)

// RoomPresenceCounter reports how many guest principals are attached to a
// room's live RoomActor right now. Capacity accounts for these in addition
// to the Document Store's persisted online=true rows, since a guest's
// membership row is absent entirely. Implemented by internal/v1/registry
// so admission never imports roomactor directly.
type RoomPresenceCounter interface {
	GuestCount(roomKey string) int
}

// Service is the admission and membership service.
type Service struct {
	store     docstore.Store
	validator TokenValidator
	presence  RoomPresenceCounter
}

// NewService builds an admission service. presence may be nil, in which
// case capacity checks only count persisted online rows (acceptable for a
// single-node deployment where the RoomActor and the store agree quickly).
func NewService(store docstore.Store, validator TokenValidator, presence RoomPresenceCounter) *Service {
	return &Service{store: store, validator: validator, presence: presence}
}

// Resolve turns credentials into a principal. A present-but-malformed token
// is the only error case; an absent token always yields a guest.
func (s *Service) Resolve(ctx context.Context, creds Credentials) (Principal, error) {
	if creds.Token == "" {
		return s.newGuest(creds.DisplayName), nil
	}

	claims, err := s.validator.ValidateToken(creds.Token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	if claims.Email != "" {
		logging.Info(ctx, "resolved authenticated principal",
			zap.String("principal_id", claims.Subject),
			zap.String("email", logging.RedactEmail(claims.Email)))
	}

	return Principal{ID: claims.Subject, DisplayName: name, Kind: KindUser}, nil
}

// newGuest synthesizes a guest principal with a globally-unique
// guest_<timestamp>_<nonce> ID.
func (s *Service) newGuest(displayName string) Principal {
	if displayName == "" {
		displayName = "Guest"
	}
	nonce := uuid.New().String()[:8]
	id := fmt.Sprintf("guest_%d_%s", time.Now().UnixNano(), nonce)
	return Principal{ID: id, DisplayName: displayName, Kind: KindGuest}
}

// ResolveRoomKey resolves whatever key a client presented, a room's
// primary roomKey or its alias joinCode, to the room's canonical roomKey.
// Callers should resolve once, up front, and use the returned key for
// every subsequent store/actor lookup so a join by joinCode and a join by
// roomKey land on the same RoomActor.
func (s *Service) ResolveRoomKey(key string) (string, error) {
	if room, err := s.store.LoadRoom(key); err == nil {
		return room.RoomKey, nil
	} else if !errors.Is(err, docstore.ErrRoomNotFound) {
		return "", fmt.Errorf("resolve room key: %w", err)
	}

	room, err := s.store.FindRoomByJoinCode(key)
	if err != nil {
		return "", err
	}
	return room.RoomKey, nil
}

// AuthorizeJoin resolves a join request to a decision. It does not mutate
// RoomActor state; the caller applies the decision (attaching a session,
// upserting a member row) after the fact.
func (s *Service) AuthorizeJoin(ctx context.Context, roomKey string, principal Principal, password string) (JoinDecision, error) {
	room, err := s.store.LoadRoom(roomKey)
	if err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			return JoinDecision{Outcome: OutcomeRoomNotFound}, nil
		}
		return JoinDecision{}, fmt.Errorf("authorize join: load room: %w", err)
	}

	member, err := s.store.GetMember(roomKey, principal.ID)
	if err != nil {
		return JoinDecision{}, fmt.Errorf("authorize join: get member: %w", err)
	}
	if member != nil && member.Banned {
		return JoinDecision{Outcome: OutcomeBanned, Capacity: room.Capacity}, nil
	}

	if room.Visibility == docstore.VisibilityPrivate && room.PasswordHash != "" {
		if password == "" {
			return JoinDecision{Outcome: OutcomePasswordRequired, Capacity: room.Capacity}, nil
		}
		if !VerifyPassword(password, room.PasswordHash) {
			return JoinDecision{Outcome: OutcomePasswordInvalid, Capacity: room.Capacity}, nil
		}
	}

	online, err := s.store.CountOnline(roomKey)
	if err != nil {
		return JoinDecision{}, fmt.Errorf("authorize join: count online: %w", err)
	}
	if s.presence != nil {
		online += s.presence.GuestCount(roomKey)
	}
	// A returning member who is already counted online does not consume an
	// extra capacity slot; everyone else does.
	alreadyOnline := member != nil && member.Online
	if !alreadyOnline && online >= room.Capacity {
		return JoinDecision{Outcome: OutcomeRoomFull, Capacity: room.Capacity}, nil
	}

	role := docstore.RoleEditor
	switch {
	case member != nil:
		role = member.Role
	case principal.ID == room.OwnerRef:
		role = docstore.RoleOwner
	case principal.Kind == KindGuest:
		role = docstore.RoleEditor
	}

	return JoinDecision{Outcome: OutcomeAdmitted, Role: role, Capacity: room.Capacity}, nil
}

// AuthorizeAction reports whether principal may perform action in roomKey.
// Owner role is required to delete the room, change capacity/password, or
// rotate the join code; editor or owner may edit; viewers may only observe.
func (s *Service) AuthorizeAction(ctx context.Context, roomKey string, principal Principal, action Action) (bool, error) {
	room, err := s.store.LoadRoom(roomKey)
	if err != nil {
		return false, fmt.Errorf("authorize action: load room: %w", err)
	}

	role := docstore.RoleViewer
	switch {
	case principal.ID == room.OwnerRef:
		role = docstore.RoleOwner
	default:
		member, err := s.store.GetMember(roomKey, principal.ID)
		if err != nil {
			return false, fmt.Errorf("authorize action: get member: %w", err)
		}
		if member != nil {
			role = member.Role
		}
	}

	switch action {
	case ActionDeleteRoom, ActionChangeSettings, ActionRotateJoinCode, ActionBanMember:
		return role == docstore.RoleOwner, nil
	case ActionEdit:
		return role == docstore.RoleOwner || role == docstore.RoleEditor, nil
	case ActionInvite:
		return role == docstore.RoleOwner || role == docstore.RoleEditor, nil
	default:
		return false, nil
	}
}

// RotateJoinCode assigns a fresh join code to a room, gated the same way
// as any other owner-only setting change. The old code stops resolving
// immediately; the new code becomes the room's sole alias.
func (s *Service) RotateJoinCode(ctx context.Context, roomKey string, principal Principal) (string, error) {
	allowed, err := s.AuthorizeAction(ctx, roomKey, principal, ActionRotateJoinCode)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", fmt.Errorf("admission: %w", errUnauthorized)
	}
	newCode := uuid.New().String()
	if err := s.store.RotateJoinCode(roomKey, newCode); err != nil {
		return "", fmt.Errorf("rotate join code: %w", err)
	}
	return newCode, nil
}

// BanMember marks principal banned (or unbans them, when banned is false) in
// roomKey, gated to the room owner. A banned principal's next AuthorizeJoin
// call resolves to OutcomeBanned regardless of password or capacity.
func (s *Service) BanMember(ctx context.Context, roomKey string, actor Principal, target string, banned bool) error {
	allowed, err := s.AuthorizeAction(ctx, roomKey, actor, ActionBanMember)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("admission: %w", errUnauthorized)
	}
	if err := s.store.SetBanned(roomKey, target, banned); err != nil {
		return fmt.Errorf("ban member: %w", err)
	}
	return nil
}

var errUnauthorized = errors.New("unauthorized")

// HashPassword produces a salted, hex-encoded SHA-256 hash suitable for
// storage in Room.PasswordHash, formatted "<salt-hex>$<hash-hex>".
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	sum := sha256.Sum256(append(salt, []byte(password)...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum[:]), nil
}

// VerifyPassword checks password against a hash produced by HashPassword
// using a constant-time comparison, so response timing cannot be used to
// probe the hash.
func VerifyPassword(password, stored string) bool {
	saltHex, wantHex, ok := splitHash(stored)
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

func splitHash(stored string) (salt, hash string, ok bool) {
	for i := 0; i < len(stored); i++ {
		if stored[i] == '$' {
			return stored[:i], stored[i+1:], true
		}
	}
	return "", "", false
}
