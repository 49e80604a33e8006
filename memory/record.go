package memory

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-companion/core"
)

// summaryPrefix marks the synthetic record produced by compaction.
const summaryPrefix = "[SUMMARY OF PAST CONVERSATIONS]: "

// Record is one long-term memory entry in the history collection.
// Records are append-only; compaction replaces all of an identifier's
// records with a single summary record.
type Record struct {
	ID        string
	OwnerID   string
	Content   string
	CreatedAt time.Time
	IsSummary bool
}

// NewRecord creates a memory record for ownerID.
func NewRecord(ownerID, content string) *Record {
	return &Record{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSummaryRecord creates the record that replaces compacted history.
func NewSummaryRecord(ownerID, summary string) *Record {
	r := NewRecord(ownerID, summaryPrefix+summary)
	r.IsSummary = true
	return r
}

// Document converts the record to its stored form.
func (r *Record) Document() core.Document {
	return core.Document{
		ID:      r.ID,
		Content: r.Content,
		Metadata: map[string]string{
			core.MetaUserID:    r.OwnerID,
			core.MetaType:      core.TypeMemory,
			core.MetaCreatedAt: r.CreatedAt.Format(time.RFC3339),
			core.MetaIsSummary: strconv.FormatBool(r.IsSummary),
		},
	}
}

// RecordFromDocument rebuilds a record read back from the history collection.
func RecordFromDocument(doc core.Document) *Record {
	createdAt, _ := time.Parse(time.RFC3339, doc.Metadata[core.MetaCreatedAt])
	isSummary, _ := strconv.ParseBool(doc.Metadata[core.MetaIsSummary])
	return &Record{
		ID:        doc.ID,
		OwnerID:   doc.Metadata[core.MetaUserID],
		Content:   doc.Content,
		CreatedAt: createdAt,
		IsSummary: isSummary,
	}
}

// singleRecord builds the document stored in a single-record tier. The ID is
// derived from key, so every backend upserts concurrent writers onto the
// same document.
func singleRecord(key, content string, meta map[string]string) core.Document {
	meta[core.MetaUpdatedAt] = time.Now().UTC().Format(time.RFC3339)
	return core.Document{
		ID:       SingleRecordID(key),
		Content:  content,
		Metadata: meta,
	}
}

// SingleRecordID is the stable document ID for a single-record tier key.
func SingleRecordID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
