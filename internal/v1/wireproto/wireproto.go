// Package wireproto implements the JSON-framed control protocol used between
// a client Session and the browser: client frames decode into a ClientFrame,
// server frames encode from a ServerFrame. CRDT updates carry an opaque
// base64 byte string on the JSON path; a binary WebSocket frame carrying the
// same bytes is accepted as an equivalent encoding for the CRDT channel.
package wireproto

import "encoding/json"

// ErrorKind is the closed set of error kinds surfaced to clients.
type ErrorKind string

const (
	ErrRoomNotFound     ErrorKind = "RoomNotFound"
	ErrPasswordRequired ErrorKind = "PasswordRequired"
	ErrPasswordInvalid  ErrorKind = "PasswordInvalid"
	ErrRoomFull         ErrorKind = "RoomFull"
	ErrBanned           ErrorKind = "Banned"
	ErrProtocolError    ErrorKind = "ProtocolError"
	ErrUnauthorized     ErrorKind = "Unauthorized"
	ErrTimeout          ErrorKind = "Timeout"
	ErrBackpressure     ErrorKind = "Backpressure"
	ErrRoomUnavailable  ErrorKind = "RoomUnavailable"
	ErrInternalError    ErrorKind = "InternalError"
)

// WarningKind is the closed set of non-fatal warning kinds.
type WarningKind string

const (
	WarnPersistenceStalled WarningKind = "PersistenceStalled"
	WarnUnknownType        WarningKind = "UnknownType"
	WarnDroppedFrames      WarningKind = "DroppedFrames"
)

// Client frame type tags.
const (
	TypeHello          = "hello"
	TypeLeave          = "leave"
	TypeCrdtUpdate     = "crdt-update"
	TypeCursor         = "cursor"
	TypeTyping         = "typing"
	TypeLanguageChange = "language-change"
	TypePing           = "ping"
)

// Server frame type tags.
const (
	TypeHelloAck      = "hello-ack"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeUsersSnapshot = "users-snapshot"
	TypeWarning       = "warning"
	TypeError         = "error"
	TypePong          = "pong"
)

// Selection holds the anchor/head of a text selection as opaque CRDT
// relative positions. The Hub never interprets these bytes; it only
// relays them between peers.
type Selection struct {
	Anchor json.RawMessage `json:"anchor"`
	Head   json.RawMessage `json:"head"`
}

// ClientFrame is the envelope every inbound client message decodes into.
// Only the fields relevant to Type are populated; the rest are zero.
type ClientFrame struct {
	Type        string     `json:"type"`
	Room        string     `json:"room,omitempty"`
	Token       string     `json:"token,omitempty"`
	Password    string     `json:"password,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
	Blob        []byte     `json:"blob,omitempty"` // base64, encoding/json handles padding
	Line        int        `json:"line,omitempty"`
	Col         int        `json:"col,omitempty"`
	Selection   *Selection `json:"selection,omitempty"`
	Typing      bool       `json:"typing,omitempty"`
	Language    string     `json:"language,omitempty"`
}

// DecodeClientFrame parses a raw client message, which may arrive as a JSON
// text frame for control messages or a binary frame for a CRDT update. A
// binary frame is treated as an already-decoded crdt-update blob.
func DecodeClientFrame(isBinary bool, data []byte) (*ClientFrame, error) {
	if isBinary {
		return &ClientFrame{Type: TypeCrdtUpdate, Blob: data}, nil
	}
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// UsersSnapshotEntry describes one attached principal for a users-snapshot frame.
type UsersSnapshotEntry struct {
	PrincipalID string `json:"principalId"`
	DisplayName string `json:"displayName"`
	ColorToken  string `json:"colorToken"`
	Role        string `json:"role"`
}

// Snapshot carries a room's state at join time.
type Snapshot struct {
	Language      string               `json:"language"`
	UsersSnapshot []UsersSnapshotEntry `json:"usersSnapshot"`
	DocumentBytes []byte               `json:"documentBytes"`
}

// ServerFrame is the envelope every outbound message encodes from. Only the
// fields relevant to Type are populated.
type ServerFrame struct {
	Type              string               `json:"type"`
	Room              string               `json:"room,omitempty"`
	RoleOfClient      string               `json:"roleOfClient,omitempty"`
	Snapshot          *Snapshot            `json:"snapshot,omitempty"`
	Blob              []byte               `json:"blob,omitempty"`
	OriginPrincipalID string               `json:"originPrincipalId,omitempty"`
	PrincipalID       string               `json:"principalId,omitempty"`
	DisplayName       string               `json:"displayName,omitempty"`
	ColorToken        string               `json:"colorToken,omitempty"`
	UsersSnapshot     []UsersSnapshotEntry `json:"usersSnapshot,omitempty"`
	Line              int                  `json:"line,omitempty"`
	Col               int                  `json:"col,omitempty"`
	Selection         *Selection           `json:"selection,omitempty"`
	Typing            bool                 `json:"typing,omitempty"`
	Language          string               `json:"language,omitempty"`
	Kind              string               `json:"kind,omitempty"`
	Detail            string               `json:"detail,omitempty"`
	Count             int                  `json:"count,omitempty"`
}

// Encode marshals a server frame to JSON bytes for a text WebSocket frame.
func Encode(f *ServerFrame) ([]byte, error) {
	return json.Marshal(f)
}

// NewError builds an error frame of the given kind.
func NewError(kind ErrorKind, detail string) *ServerFrame {
	return &ServerFrame{Type: TypeError, Kind: string(kind), Detail: detail}
}

// NewWarning builds a warning frame of the given kind.
func NewWarning(kind WarningKind, detail string) *ServerFrame {
	return &ServerFrame{Type: TypeWarning, Kind: string(kind), Detail: detail}
}
