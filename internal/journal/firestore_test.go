package journal

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFirestoreDocument(t *testing.T) {
	rec := activeRecord("f1", baseTime)
	doc := recordToDoc(rec)
	if _, ok := doc["finished_at"]; ok {
		t.Error("active transfer has finished_at")
	}
	if doc["started_at"] != "2026-03-14T09:26:53.589Z" {
		t.Errorf("started_at = %v", doc["started_at"])
	}

	rec.State = StateCompleted
	rec.Bytes = 42
	rec.Parts = 1
	rec.FinishedAt = baseTime.Add(time.Second)
	got, err := docToRecord(recordToDoc(rec))
	if err != nil {
		t.Fatalf("docToRecord: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestFirestoreDocumentBadTimestamp(t *testing.T) {
	doc := recordToDoc(activeRecord("f2", baseTime))
	doc["started_at"] = "yesterday"
	if _, err := docToRecord(doc); err == nil {
		t.Error("docToRecord accepted a malformed timestamp")
	}
}
