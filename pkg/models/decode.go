package models

// Boundary conversion from loosely-typed store documents into typed models.
// Remote documents arrive as generic JSON objects; every optional field is
// defaulted here so the rest of the code never sees a half-formed record.

// DecodeMessage converts a raw document into a Message. The document id is
// carried separately from the payload (store-assigned). It returns ok=false
// when the document has no server timestamp yet: a freshly written message
// can be observed before the server clock is applied, and such records are
// excluded from windows until the next snapshot.
func DecodeMessage(id string, data map[string]any) (Message, bool) {
	m := Message{
		ID:         id,
		Room:       str(data, "room"),
		Author:     str(data, "author"),
		Body:       str(data, "body"),
		Attachment: str(data, "attachment"),
		CreatedTS:  i64(data, "created_ts"),
	}
	switch Kind(str(data, "kind")) {
	case KindImage:
		m.Kind = KindImage
	default:
		// missing or unknown kind defaults to text
		m.Kind = KindText
	}
	if v, ok := data["likers"]; ok {
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				if s, ok := e.(string); ok && s != "" {
					m.Likers = append(m.Likers, s)
				}
			}
		}
	}
	if m.CreatedTS == 0 {
		return Message{}, false
	}
	return m, true
}

// DecodeReadMarker converts a raw read-marker document. The document id is
// the user id. ok=false when no message reference is present.
func DecodeReadMarker(userID string, data map[string]any) (ReadMarker, bool) {
	rm := ReadMarker{
		User:      userID,
		MessageID: str(data, "message_id"),
		ReadTS:    i64(data, "read_ts"),
	}
	if rm.MessageID == "" {
		return ReadMarker{}, false
	}
	return rm, true
}

// DecodeMember converts a raw user document into a Member, defaulting the
// display name to the user id so callers always have something to render.
func DecodeMember(id string, data map[string]any) Member {
	m := Member{
		ID:       id,
		Name:     str(data, "name"),
		PhotoURL: str(data, "photo_url"),
	}
	if m.Name == "" {
		m.Name = id
	}
	return m
}

func str(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func i64(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
