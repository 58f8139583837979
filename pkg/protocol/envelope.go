package protocol

// Kind identifies the semantic type of an Envelope.
type Kind string

// Envelope kinds exchanged between client and server.
const (
	KindServerResponse     Kind = "server_response"
	KindLogin              Kind = "login"
	KindLogout             Kind = "logout"
	KindJoin               Kind = "join"
	KindRegister           Kind = "register"
	KindChat               Kind = "chat"
	KindDM                 Kind = "dm"
	KindFetch              Kind = "fetch"
	KindMarkRead           Kind = "mark_read"
	KindDelete             Kind = "delete"
	KindDeleteNotification Kind = "delete_notification"
	KindDeleteAccount      Kind = "delete_account"
	KindLeave              Kind = "leave"
)

// Binary wire tags, one per Kind. The table is pinned by hand: both peers
// must agree on it regardless of build order, and reordering the Kind
// declarations above must never change a tag. Adding a kind means appending
// a new tag value, never renumbering.
const (
	TagServerResponse     = 0x00
	TagLogin              = 0x01
	TagLogout             = 0x02
	TagJoin               = 0x03
	TagRegister           = 0x04
	TagChat               = 0x05
	TagDM                 = 0x06
	TagFetch              = 0x07
	TagMarkRead           = 0x08
	TagDelete             = 0x09
	TagDeleteNotification = 0x0A
	TagDeleteAccount      = 0x0B
	TagLeave              = 0x0C
)

var kindTags = map[Kind]byte{
	KindServerResponse:     TagServerResponse,
	KindLogin:              TagLogin,
	KindLogout:             TagLogout,
	KindJoin:               TagJoin,
	KindRegister:           TagRegister,
	KindChat:               TagChat,
	KindDM:                 TagDM,
	KindFetch:              TagFetch,
	KindMarkRead:           TagMarkRead,
	KindDelete:             TagDelete,
	KindDeleteNotification: TagDeleteNotification,
	KindDeleteAccount:      TagDeleteAccount,
	KindLeave:              TagLeave,
}

var tagKinds = map[byte]Kind{
	TagServerResponse:     KindServerResponse,
	TagLogin:              KindLogin,
	TagLogout:             KindLogout,
	TagJoin:               KindJoin,
	TagRegister:           KindRegister,
	TagChat:               KindChat,
	TagDM:                 KindDM,
	TagFetch:              KindFetch,
	TagMarkRead:           KindMarkRead,
	TagDelete:             KindDelete,
	TagDeleteNotification: KindDeleteNotification,
	TagDeleteAccount:      KindDeleteAccount,
	TagLeave:              KindLeave,
}

// KnownKind reports whether k has a pinned wire tag.
func KnownKind(k Kind) bool {
	_, ok := kindTags[k]
	return ok
}

// KnownTag reports whether t maps to a Kind.
func KnownTag(t byte) bool {
	_, ok := tagKinds[t]
	return ok
}

// Envelope is the logical unit of protocol exchange. Kind determines which
// of the other fields are semantically required; the codecs carry all of
// them regardless and leave semantic validation to the server's router.
type Envelope struct {
	Kind        Kind     `json:"kind"`
	Sender      string   `json:"sender"`
	Content     string   `json:"content"`
	Timestamp   int64    `json:"timestamp"` // unix milliseconds
	Recipients  []string `json:"recipients,omitempty"`
	MessageID   uint64   `json:"message_id,omitempty"`
	MessageIDs  []uint64 `json:"message_ids,omitempty"`
	FetchLimit  uint32   `json:"fetch_limit,omitempty"`
	Password    string   `json:"password,omitempty"`
	ActiveUsers []string `json:"active_users,omitempty"`
	UnreadCount uint32   `json:"unread_count,omitempty"`
}

// Status is the outcome of a server-handled operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ServerResponse is the server's reply to a client request. Data optionally
// carries an embedded Envelope (e.g. a delivered chat message).
type ServerResponse struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	UnreadCount uint32    `json:"unread_count,omitempty"`
	Data        *Envelope `json:"data,omitempty"`
}

// OK reports whether the response carries a success status.
func (r *ServerResponse) OK() bool {
	return r.Status == StatusSuccess
}
