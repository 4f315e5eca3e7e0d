package feed

import "roomsync/pkg/models"

// Gateway wire protocol. A client opens a websocket to the feed endpoint
// and writes one request; the gateway answers with a stream of frames
// (live subscription) or a single frame (page_before).

const (
	opSubscribe  = "subscribe"
	opPageBefore = "page_before"

	collMessages = "messages"
	collRead     = "read"
	collLikes    = "likes"

	frameSnapshot = "snapshot"
	frameLike     = "like"
	frameError    = "error"

	codeCursorMissing = "cursor_missing"
)

type request struct {
	Op         string `json:"op"`
	Collection string `json:"collection,omitempty"`
	Room       string `json:"room"`
	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

// doc is a loosely-typed document as stored remotely: the store-assigned id
// plus an arbitrary payload. Typed conversion happens in models.
type doc struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type likeBody struct {
	MessageID string   `json:"message_id"`
	Author    string   `json:"author"`
	Before    []string `json:"before"`
	After     []string `json:"after"`
}

type frame struct {
	Type string    `json:"type"`
	Docs []doc     `json:"docs,omitempty"`
	Like *likeBody `json:"like,omitempty"`
	Code string    `json:"code,omitempty"`
	Msg  string    `json:"msg,omitempty"`
}

// decodeMessages converts snapshot docs to a sorted window. Records without
// a server timestamp yet are dropped; they reappear in a later snapshot.
func decodeMessages(room string, docs []doc) []models.Message {
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		m, ok := models.DecodeMessage(d.ID, d.Data)
		if !ok {
			continue
		}
		if m.Room == "" {
			m.Room = room
		}
		out = append(out, m)
	}
	models.SortWindow(out)
	return out
}

func decodeMarkers(docs []doc) []models.ReadMarker {
	out := make([]models.ReadMarker, 0, len(docs))
	for _, d := range docs {
		if rm, ok := models.DecodeReadMarker(d.ID, d.Data); ok {
			out = append(out, rm)
		}
	}
	return out
}
