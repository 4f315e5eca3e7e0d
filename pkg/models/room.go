package models

// Room is chat room metadata. roomsync only reads rooms; creation and
// membership changes happen elsewhere.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Owner     string   `json:"owner,omitempty"`
	Members   []string `json:"members,omitempty"`
	CreatedTS int64    `json:"created_ts,omitempty"`
}

// Member is the cached public profile of a room member. Staleness is
// tolerated; the cache is refreshed best-effort and is never authoritative.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// ReadMarker records, per (room, user), the newest message a user has read.
// Last write wins; it is overwritten on every read-position update. A zero
// ReadTS means the marker was created but no read time was recorded yet.
type ReadMarker struct {
	User      string `json:"user"`
	MessageID string `json:"message_id"`
	ReadTS    int64  `json:"read_ts,omitempty"`
}

// Receipt is the UI-facing projection of a ReadMarker: which message a user
// other than self has read up to.
type Receipt struct {
	User      string `json:"user"`
	MessageID string `json:"message_id"`
}

// Identity is the last authenticated user, persisted in a single-slot store
// so a fresh session can detect account switches and resume the last room.
type Identity struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
	LastRoom string `json:"last_room,omitempty"`
}
