package models

import "sort"

// Kind distinguishes plain text messages from image messages.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Message is a single chat message as observed from the remote store.
// Messages are immutable once created except for Likers (append-only) and
// Attachment, which is resolved asynchronously after creation and may be
// empty for a while on image messages.
type Message struct {
	ID     string `json:"id"`
	Room   string `json:"room,omitempty"`
	Author string `json:"author"`
	Kind   Kind   `json:"kind"`
	Body   string `json:"body,omitempty"`
	// Attachment is the storage path of the image for KindImage messages.
	Attachment string `json:"attachment,omitempty"`
	// CreatedTS is the server-assigned creation time (ns).
	CreatedTS int64    `json:"created_ts"`
	Likers    []string `json:"likers,omitempty"`
}

// Before reports whether m sorts strictly before o under the canonical
// (CreatedTS, ID) window order.
func (m Message) Before(o Message) bool {
	if m.CreatedTS != o.CreatedTS {
		return m.CreatedTS < o.CreatedTS
	}
	return m.ID < o.ID
}

// SortWindow sorts msgs oldest to newest by (CreatedTS, ID).
func SortWindow(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

// Entry is the cached and displayed form of a Message, carrying window
// metadata derived per snapshot: the author of the following message (used
// to decide whether to redraw a sender's avatar) and the last-in-window
// marker.
type Entry struct {
	Message
	NextAuthor   string `json:"next_author,omitempty"`
	LastInWindow bool   `json:"last_in_window,omitempty"`
}
