package documents

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestUploadCreatesFirstVersionWithHistory(t *testing.T) {
	h := newTestHarness(t)
	document := mustUpload(t, h, "user-1", "Python developer with 4 years of Django experience")

	if document.Version != 1 || !document.IsCurrentVersion {
		t.Fatalf("expected current version 1, got %+v", document)
	}
	if document.VersionGroupID == "" {
		t.Fatalf("expected version group id")
	}
	if document.MimeType != "text/plain" {
		t.Fatalf("expected text/plain, got %s", document.MimeType)
	}
	wantKey := fmt.Sprintf("user-1/%s_v1.txt", document.VersionGroupID)
	if document.FilePath != wantKey {
		t.Fatalf("expected file path %s, got %s", wantKey, document.FilePath)
	}
	exists, err := h.store.Exists(t.Context(), document.FilePath)
	if err != nil || !exists {
		t.Fatalf("expected stored blob, exists=%v err=%v", exists, err)
	}
	contentAnalysis, ok := document.Analysis()
	if !ok || len(contentAnalysis.Skills) != 2 || contentAnalysis.ExperienceYears != 4 {
		t.Fatalf("unexpected analysis %+v ok=%v", contentAnalysis, ok)
	}

	history, err := h.service.ListHistory(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].Action != HistoryActionCreated {
		t.Fatalf("expected one created entry, got %+v", history)
	}
}

func TestUploadRejectsUnknownDocumentType(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.service.Upload(t.Context(), UploadRequest{
		UserID:       "user-1",
		Filename:     "x.txt",
		DocumentType: "diary",
		Content:      []byte("content"),
	})
	if !errors.Is(err, ErrInvalidDocumentType) {
		t.Fatalf("expected ErrInvalidDocumentType, got %v", err)
	}
}

func TestCreateVersionKeepsSingleCurrentAndIncrementsVersion(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "resume version one")

	for index := 2; index <= 4; index++ {
		created := mustCreateVersion(t, h, "user-1", original.ID, fmt.Sprintf("resume version %d", index))
		if created.Version != index {
			t.Fatalf("expected version %d, got %d", index, created.Version)
		}
		if current := countCurrent(t, h.db, original.VersionGroupID); current != 1 {
			t.Fatalf("expected exactly one current version, got %d", current)
		}
		wantKey := fmt.Sprintf("user-1/%s_v%d.txt", original.VersionGroupID, index)
		if created.FilePath != wantKey {
			t.Fatalf("expected %s, got %s", wantKey, created.FilePath)
		}
	}

	versions, err := h.service.ListVersions(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 4 || versions[0].Version != 4 || versions[3].Version != 1 {
		t.Fatalf("unexpected versions ordering: %+v", versions)
	}

	current, err := h.service.GetCurrentVersion(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current.Version != 4 {
		t.Fatalf("expected version 4 to be current, got %d", current.Version)
	}
	if len(current.Tags) != 1 || current.Tags[0] != "Technology" {
		t.Fatalf("expected tags to carry over, got %v", current.Tags)
	}
}

func TestCreateVersionRejectsDuplicateChecksum(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "identical content")

	_, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: original.ID,
		UserID:     "user-1",
		Filename:   "resume.txt",
		Content:    []byte("identical content"),
	})
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Fatalf("expected ErrDuplicateVersion, got %v", err)
	}

	var count int64
	if err := h.db.Model(&Document{}).Where("version_group_id = ?", original.VersionGroupID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected no new row, found %d rows", count)
	}
	exists, err := h.store.Exists(t.Context(), fmt.Sprintf("user-1/%s_v2.txt", original.VersionGroupID))
	if err != nil || exists {
		t.Fatalf("expected no blob for rejected version, exists=%v err=%v", exists, err)
	}
}

func TestCreateVersionRejectsMimeTypeMismatch(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "plain text resume")

	_, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: original.ID,
		UserID:     "user-1",
		Filename:   "resume.pdf",
		Content:    []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"),
	})
	if !errors.Is(err, ErrMimeTypeMismatch) {
		t.Fatalf("expected ErrMimeTypeMismatch, got %v", err)
	}
}

func TestCreateVersionUnknownDocument(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "owned by user one")

	_, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: original.ID,
		UserID:     "user-2",
		Content:    []byte("foreign write"),
	})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestRestoreVersionFlipsCurrentAndRecordsHistory(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "first draft")
	mustCreateVersion(t, h, "user-1", original.ID, "second draft")

	restored, err := h.service.RestoreVersion(t.Context(), "user-1", original.ID, 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.IsCurrentVersion || restored.RestoredFromVersion == nil || *restored.RestoredFromVersion != 2 {
		t.Fatalf("unexpected restored document %+v", restored)
	}
	if current := countCurrent(t, h.db, original.VersionGroupID); current != 1 {
		t.Fatalf("expected exactly one current version, got %d", current)
	}

	history, err := h.service.ListHistory(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := history[len(history)-1]
	if last.Action != HistoryActionRestored || last.VersionNumber != 1 {
		t.Fatalf("expected restored entry for version 1, got %+v", last)
	}

	if _, err := h.service.RestoreVersion(t.Context(), "user-1", original.ID, 9); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestArchiveVersionRules(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "archive me v1")
	mustCreateVersion(t, h, "user-1", original.ID, "archive me v2")

	if _, err := h.service.ArchiveVersion(t.Context(), "user-1", original.ID, 2); !errors.Is(err, ErrCurrentVersion) {
		t.Fatalf("expected ErrCurrentVersion, got %v", err)
	}
	archived, err := h.service.ArchiveVersion(t.Context(), "user-1", original.ID, 1)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.IsArchived || archived.ArchivedAt == nil {
		t.Fatalf("expected archived flags, got %+v", archived)
	}
	if _, err := h.service.ArchiveVersion(t.Context(), "user-1", original.ID, 1); err != nil {
		t.Fatalf("second archive should be a no-op: %v", err)
	}

	var archivedEntries int64
	if err := h.db.Model(&HistoryEntry{}).Where("action = ?", HistoryActionArchived).Count(&archivedEntries).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if archivedEntries != 1 {
		t.Fatalf("expected one archived entry, got %d", archivedEntries)
	}
}

func TestDeleteSoleVersionIsRejected(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "only version")

	if err := h.service.DeleteVersion(t.Context(), "user-1", original.ID, 1); !errors.Is(err, ErrSoleVersion) {
		t.Fatalf("expected ErrSoleVersion, got %v", err)
	}

	reloaded, err := h.service.Get(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reloaded.IsCurrentVersion || reloaded.IsArchived || reloaded.DeletedAt != nil {
		t.Fatalf("expected document unchanged, got %+v", reloaded)
	}
}

func TestDeleteCurrentVersionPromotesNewestRemaining(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "delete v1")
	mustCreateVersion(t, h, "user-1", original.ID, "delete v2")
	third := mustCreateVersion(t, h, "user-1", original.ID, "delete v3")

	if err := h.service.DeleteVersion(t.Context(), "user-1", third.ID, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	current, err := h.service.GetCurrentVersion(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current.Version != 2 {
		t.Fatalf("expected version 2 promoted, got %d", current.Version)
	}
	if _, err := h.service.Get(t.Context(), "user-1", third.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected deleted version hidden, got %v", err)
	}

	next := mustCreateVersion(t, h, "user-1", original.ID, "delete v4")
	if next.Version != 4 {
		t.Fatalf("expected version numbers never reused, got %d", next.Version)
	}
}

func TestDeleteCurrentVersionPromotesArchivedSibling(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "archived sibling v1")
	second := mustCreateVersion(t, h, "user-1", original.ID, "archived sibling v2")
	if _, err := h.service.ArchiveVersion(t.Context(), "user-1", original.ID, 1); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if err := h.service.DeleteVersion(t.Context(), "user-1", second.ID, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	current, err := h.service.GetCurrentVersion(t.Context(), "user-1", original.ID)
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if current.Version != 1 || current.IsArchived || current.ArchivedAt != nil {
		t.Fatalf("expected version 1 promoted and unarchived, got %+v", current)
	}
	if count := countCurrent(t, h.db, original.VersionGroupID); count != 1 {
		t.Fatalf("expected exactly one current version, got %d", count)
	}

	var entry HistoryEntry
	if err := h.db.Where("action = ? AND document_id = ?", HistoryActionDeleted, second.ID).First(&entry).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if fmt.Sprint(entry.Changes["promoted_version"]) != "1" || fmt.Sprint(entry.Changes["unarchived_version"]) != "1" {
		t.Fatalf("unexpected delete changes %v", entry.Changes)
	}

	if err := h.service.DeleteVersion(t.Context(), "user-1", original.ID, 1); !errors.Is(err, ErrSoleVersion) {
		t.Fatalf("expected ErrSoleVersion for the last remaining version, got %v", err)
	}
}

func TestDeleteSuccessorPrefersActiveOverArchived(t *testing.T) {
	members := []Document{
		{ID: 1, Version: 1},
		{ID: 2, Version: 2, IsArchived: true},
		{ID: 3, Version: 3, IsArchived: true},
		{ID: 4, Version: 4, IsCurrentVersion: true},
	}
	successor, remaining := deletionSuccessor(members, 4)
	if successor == nil || successor.Version != 1 || remaining != 3 {
		t.Fatalf("expected active version 1 of 3 remaining, got %+v remaining=%d", successor, remaining)
	}

	members[0].IsArchived = true
	successor, _ = deletionSuccessor(members, 4)
	if successor == nil || successor.Version != 3 {
		t.Fatalf("expected newest archived version 3, got %+v", successor)
	}

	deletedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for index := range members[:3] {
		members[index].DeletedAt = &deletedAt
	}
	if successor, remaining = deletionSuccessor(members, 4); successor != nil || remaining != 0 {
		t.Fatalf("expected no successor, got %+v remaining=%d", successor, remaining)
	}
}

func TestCreateVersionReplacesTagsWhenGiven(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "tagged v1")

	second, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: original.ID,
		UserID:     "user-1",
		Content:    []byte("tagged v2"),
		Tags:       []string{" Leadership ", "leadership", ""},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if fmt.Sprint([]string(second.Tags)) != "[Leadership]" {
		t.Fatalf("expected normalized tags, got %v", second.Tags)
	}
	third := mustCreateVersion(t, h, "user-1", original.ID, "tagged v3")
	if fmt.Sprint([]string(third.Tags)) != "[Leadership]" {
		t.Fatalf("expected tags carried forward, got %v", third.Tags)
	}

	comparison, err := h.service.CompareVersions(t.Context(), "user-1", original.ID, 1, 2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if fmt.Sprint(comparison.TagsAdded) != "[Leadership]" || fmt.Sprint(comparison.TagsRemoved) != "[Technology]" {
		t.Fatalf("unexpected tag difference added=%v removed=%v", comparison.TagsAdded, comparison.TagsRemoved)
	}

	cleared, err := h.service.CreateVersion(t.Context(), CreateVersionRequest{
		DocumentID: original.ID,
		UserID:     "user-1",
		Content:    []byte("tagged v4"),
		Tags:       []string{},
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if len(cleared.Tags) != 0 {
		t.Fatalf("expected empty tag list to clear tags, got %v", cleared.Tags)
	}
}

func TestCreateVersionFollowsGroupedLayout(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "grouped v1")
	grouped := GroupedFileKey("user-1", original.VersionGroupID, 1, ".txt")
	if err := h.store.Move(t.Context(), original.FilePath, grouped); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := h.db.Model(&Document{}).Where("id = ?", original.ID).Update("file_path", grouped).Error; err != nil {
		t.Fatalf("update path: %v", err)
	}

	second := mustCreateVersion(t, h, "user-1", original.ID, "grouped v2")
	want := GroupedFileKey("user-1", original.VersionGroupID, 2, ".txt")
	if second.FilePath != want {
		t.Fatalf("expected %s, got %s", want, second.FilePath)
	}
	exists, err := h.store.Exists(t.Context(), want)
	if err != nil || !exists {
		t.Fatalf("expected grouped blob, exists=%v err=%v", exists, err)
	}

	flat := mustUpload(t, h, "user-2", "flat v1")
	flatSecond := mustCreateVersion(t, h, "user-2", flat.ID, "flat v2")
	if flatSecond.FilePath != VersionFileKey("user-2", flat.VersionGroupID, 2, ".txt") {
		t.Fatalf("expected flat layout, got %s", flatSecond.FilePath)
	}
}

func TestCompareVersions(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "short")
	mustCreateVersion(t, h, "user-1", original.ID, "a much longer body")

	comparison, err := h.service.CompareVersions(t.Context(), "user-1", original.ID, 1, 2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if comparison.SizeDifference != int64(len("a much longer body")-len("short")) {
		t.Fatalf("unexpected size difference %d", comparison.SizeDifference)
	}
	if comparison.SameContent {
		t.Fatalf("expected different content")
	}
	if comparison.TimeBetweenSeconds <= 0 {
		t.Fatalf("expected positive elapsed time, got %v", comparison.TimeBetweenSeconds)
	}
	if len(comparison.TagsAdded) != 0 || len(comparison.TagsRemoved) != 0 {
		t.Fatalf("expected no tag changes, got %+v", comparison)
	}
	if _, err := h.service.CompareVersions(t.Context(), "user-1", original.ID, 1, 7); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestCleanupOldVersionsArchivesBeyondKeepAndIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "cleanup v1")
	for index := 2; index <= 15; index++ {
		mustCreateVersion(t, h, "user-1", original.ID, fmt.Sprintf("cleanup v%d", index))
	}

	first, err := h.service.CleanupOldVersions(t.Context(), "user-1", 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if first.VersionsArchived != 5 || first.GroupsProcessed != 1 {
		t.Fatalf("expected 5 archived in 1 group, got %+v", first)
	}
	if first.SpaceFreed != int64(len("cleanup v1"))*5 {
		t.Fatalf("unexpected space freed %d", first.SpaceFreed)
	}
	for _, item := range first.Items {
		if item.Version > 5 {
			t.Fatalf("expected only versions 1-5 archived, got %d", item.Version)
		}
	}

	second, err := h.service.CleanupOldVersions(t.Context(), "user-1", 10)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if second.VersionsArchived != 0 {
		t.Fatalf("expected idempotent cleanup, archived %d", second.VersionsArchived)
	}
}

func TestCleanupRetainsCurrentVersionBeyondKeepWindow(t *testing.T) {
	h := newTestHarness(t)
	original := mustUpload(t, h, "user-1", "window v1")
	for index := 2; index <= 4; index++ {
		mustCreateVersion(t, h, "user-1", original.ID, fmt.Sprintf("window v%d", index))
	}
	if _, err := h.service.RestoreVersion(t.Context(), "user-1", original.ID, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}

	result, err := h.service.CleanupOldVersions(t.Context(), "user-1", 1)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if result.VersionsArchived != 2 {
		t.Fatalf("expected versions 2 and 3 archived, got %+v", result)
	}
	current, err := h.service.GetCurrentVersion(t.Context(), "user-1", original.ID)
	if err != nil || current.Version != 1 || current.IsArchived {
		t.Fatalf("expected version 1 to stay current, got %+v err=%v", current, err)
	}
}

func TestReadContentDecodesCompressedAndEncryptedPayload(t *testing.T) {
	h := newTestHarness(t)
	plaintext := "Experienced Go engineer. "
	for len(plaintext) < 512 {
		plaintext += "Distributed systems, Kubernetes and PostgreSQL. "
	}
	document := mustUpload(t, h, "user-1", plaintext)

	compressed, algorithm, err := h.compressor.Compress([]byte(plaintext))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	sealed, err := h.encryptor.Encrypt(compressed)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := h.store.Put(t.Context(), document.FilePath, sealed, ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.db.Model(&Document{}).Where("id = ?", document.ID).Updates(map[string]any{
		"is_compressed":        true,
		"compression_type":     algorithm,
		"is_encrypted":         true,
		"encryption_algorithm": h.encryptor.Algorithm(),
		"data_hash":            h.encryptor.Hash(compressed),
	}).Error; err != nil {
		t.Fatalf("update: %v", err)
	}

	content, updated, err := h.service.ReadContent(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(content) != plaintext {
		t.Fatalf("round trip mismatch")
	}
	if updated.UsageCount != 1 || updated.LastUsed == nil {
		t.Fatalf("expected usage to be recorded, got %+v", updated)
	}

	if err := h.db.Model(&Document{}).Where("id = ?", document.ID).Update("data_hash", Checksum([]byte("other"))).Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, _, err := h.service.ReadContent(t.Context(), "user-1", document.ID); !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("expected ErrIntegrityMismatch, got %v", err)
	}
}

func TestVersionFileKeysStayUnderUserDirectory(t *testing.T) {
	key := VersionFileKey("user-1", "group-1", 3, ".pdf")
	if key != "user-1/group-1_v3.pdf" {
		t.Fatalf("unexpected key %s", key)
	}
	grouped := GroupedFileKey("user-1", "group-1", 3, ".pdf")
	if grouped != "user-1/group-1/v3.pdf" {
		t.Fatalf("unexpected grouped key %s", grouped)
	}
}
