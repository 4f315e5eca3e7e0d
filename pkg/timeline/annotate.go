package timeline

import "roomsync/pkg/models"

// Annotate derives per-message display hints over one window: every message
// except the last carries the author of the following message, and only the
// final message is marked last-in-window. Pure and O(n); the input order is
// preserved.
func Annotate(msgs []models.Message) []models.Entry {
	out := make([]models.Entry, len(msgs))
	for i, m := range msgs {
		e := models.Entry{Message: m}
		if i+1 < len(msgs) {
			e.NextAuthor = msgs[i+1].Author
		} else {
			e.LastInWindow = true
		}
		out[i] = e
	}
	return out
}

// Reannotate recomputes window metadata for entries read back from the
// cache. Stored hints describe the window they were written under, which
// may differ from the window being assembled now.
func Reannotate(entries []models.Entry) []models.Entry {
	msgs := make([]models.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return Annotate(msgs)
}
