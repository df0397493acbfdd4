package extractor

import (
	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/reader"
	"github.com/dbsmedya/goextract/internal/types"
)

// canonicalID reads the first non-empty ID field of h.
func canonicalID(rd *reader.Reader, h heap.Handle) (string, bool) {
	for _, f := range rd.Naming().IDFields {
		if s, ok := rd.StringField(h, f); ok {
			return s, true
		}
	}
	return "", false
}

// provisionalName names rec from h's ID field, then its path field. Sources
// below the record's current one are ignored by the record itself.
func provisionalName(rd *reader.Reader, h heap.Handle, rec *types.Record) {
	if id, ok := canonicalID(rd, h); ok {
		rec.SetName(id, types.NameID)
		return
	}
	for _, f := range rd.Naming().PathFields {
		if s, ok := rd.StringField(h, f); ok {
			rec.SetName(s, types.NamePath)
			return
		}
	}
}

// backfillName adopts the object's own name for a record still carrying a
// placeholder.
func backfillName(rd *reader.Reader, h heap.Handle, rec *types.Record) bool {
	if !rec.HasPlaceholderName() {
		return false
	}
	name, ok := rd.ObjectName(h)
	if !ok {
		return false
	}
	return rec.SetName(name, types.NameBackfill)
}
