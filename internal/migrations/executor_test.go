package migrations

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
)

func TestCreateRecordsPendingMigration(t *testing.T) {
	h := newTestHarness(t)
	migration, err := h.service.Create(t.Context(), "user-1", "cleanup_migration", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if migration.Status != StatusPending {
		t.Fatalf("expected pending, got %s", migration.Status)
	}
	if migration.Parameters["keep_versions"] != defaultKeepVersions {
		t.Fatalf("expected default keep_versions, got %v", migration.Parameters["keep_versions"])
	}
	if got := logEvents(migration); len(got) != 1 || got[0] != logEventCreated {
		t.Fatalf("unexpected log %v", got)
	}
	if got := h.publisher.types(migration.MigrationID); len(got) != 1 || got[0] != events.TypeMigrationCreated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := newTestHarness(t)
	testCases := []struct {
		name       string
		userID     string
		kind       string
		parameters map[string]any
		want       error
	}{
		{name: "unknown type", userID: "user-1", kind: "defrag", want: ErrInvalidMigrationType},
		{name: "missing user", userID: " ", kind: "compression_migration", want: ErrInvalidUserID},
		{name: "negative keep", userID: "user-1", kind: "cleanup_migration", parameters: map[string]any{"keep_versions": -1}, want: ErrInvalidParameters},
		{name: "fractional keep", userID: "user-1", kind: "cleanup_migration", parameters: map[string]any{"keep_versions": 2.5}, want: ErrInvalidParameters},
		{name: "word keep", userID: "user-1", kind: "cleanup_migration", parameters: map[string]any{"keep_versions": "ten"}, want: ErrInvalidParameters},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := h.service.Create(t.Context(), testCase.userID, testCase.kind, testCase.parameters)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestKeepVersionsAcceptsNumericForms(t *testing.T) {
	testCases := []struct {
		name  string
		input map[string]any
		want  int
	}{
		{name: "absent", input: map[string]any{}, want: defaultKeepVersions},
		{name: "int", input: map[string]any{"keep_versions": 3}, want: 3},
		{name: "json number", input: map[string]any{"keep_versions": float64(10)}, want: 10},
		{name: "string", input: map[string]any{"keep_versions": " 7 "}, want: 7},
		{name: "zero", input: map[string]any{"keep_versions": 0}, want: 0},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := keepVersions(testCase.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestCleanupMigrationArchivesVersionsBeyondKeep(t *testing.T) {
	h := newTestHarness(t)
	first := mustUpload(t, h, "user-1", "version 1")
	for version := 2; version <= 15; version++ {
		if _, err := h.documents.CreateVersion(t.Context(), documents.CreateVersionRequest{
			DocumentID: first.ID,
			UserID:     "user-1",
			Filename:   "notes.txt",
			Content:    []byte(fmt.Sprintf("version %d", version)),
		}); err != nil {
			t.Fatalf("create version %d failed: %v", version, err)
		}
	}

	migration := mustRun(t, h, "user-1", TypeCleanup, map[string]any{"keep_versions": 10})
	if migration.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", migration.Status)
	}
	if migration.DocumentsAffected != 5 {
		t.Fatalf("expected 5 documents affected, got %d", migration.DocumentsAffected)
	}
	if migration.Progress != 100 || migration.StartedAt == nil || migration.CompletedAt == nil {
		t.Fatalf("unexpected completion state %+v", migration)
	}

	var archived int64
	if err := h.db.Model(&documents.Document{}).
		Where("version_group_id = ? AND is_archived = ?", first.VersionGroupID, true).
		Count(&archived).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if archived != 5 {
		t.Fatalf("expected 5 archived rows, got %d", archived)
	}

	stored, err := h.service.Get(t.Context(), "user-1", migration.MigrationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	log := logEvents(stored)
	if log[0] != logEventCreated || log[1] != logEventStarted || log[len(log)-1] != logEventCompleted {
		t.Fatalf("unexpected log sequence %v", log)
	}
	if stored.Summary.Data().Succeeded != 5 {
		t.Fatalf("expected stored summary with 5 successes, got %+v", stored.Summary.Data())
	}
	want := []string{events.TypeMigrationCreated, events.TypeMigrationStarted, events.TypeMigrationCompleted}
	got := h.publisher.types(migration.MigrationID)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestCompressionThenEncryptionKeepsContentReadable(t *testing.T) {
	h := newTestHarness(t)
	content := longText("alpha")
	document := mustUpload(t, h, "user-1", content)

	compressed := mustRun(t, h, "user-1", TypeCompression, nil)
	if compressed.DocumentsAffected != 1 {
		t.Fatalf("expected one compressed document, got %d", compressed.DocumentsAffected)
	}
	afterCompression, err := h.documents.Get(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !afterCompression.IsCompressed || afterCompression.CompressionType != "zstd" {
		t.Fatalf("expected zstd compression, got %+v", afterCompression)
	}
	if afterCompression.FileSize >= afterCompression.OriginalSize {
		t.Fatalf("expected smaller file, got %d >= %d", afterCompression.FileSize, afterCompression.OriginalSize)
	}
	backupExists, err := h.store.Exists(t.Context(), storage.BackupKey(document.FilePath, backupCompression))
	if err != nil || !backupExists {
		t.Fatalf("expected backup copy, exists=%v err=%v", backupExists, err)
	}

	encrypted := mustRun(t, h, "user-1", TypeEncryption, nil)
	if encrypted.DocumentsAffected != 1 {
		t.Fatalf("expected one encrypted document, got %d", encrypted.DocumentsAffected)
	}
	afterEncryption, err := h.documents.Get(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !afterEncryption.IsEncrypted || afterEncryption.EncryptionAlgorithm != h.encryptor.Algorithm() {
		t.Fatalf("expected encrypted document, got %+v", afterEncryption)
	}
	if afterEncryption.DataHash == "" {
		t.Fatalf("expected data hash")
	}

	plaintext, _, err := h.documents.ReadContent(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("read content failed: %v", err)
	}
	if string(plaintext) != content {
		t.Fatalf("content changed after migrations")
	}

	history, err := h.documents.ListHistory(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	actions := make([]documents.HistoryAction, 0, len(history))
	for _, entry := range history {
		actions = append(actions, entry.Action)
	}
	want := []documents.HistoryAction{documents.HistoryActionCreated, documents.HistoryActionCompressed, documents.HistoryActionEncrypted}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Fatalf("expected history %v, got %v", want, actions)
	}
	if history[1].Changes["bytes_saved"] == nil {
		t.Fatalf("expected bytes_saved in compression history")
	}

	again := mustRun(t, h, "user-1", TypeEncryption, nil)
	if again.DocumentsAffected != 0 || again.Summary.Data().Total != 0 {
		t.Fatalf("expected nothing left to encrypt, got %+v", again.Summary.Data())
	}
}

func TestEachTransformationKeepsItsOwnBackup(t *testing.T) {
	h := newTestHarness(t)
	content := longText("bravo")
	document := mustUpload(t, h, "user-1", content)

	mustRun(t, h, "user-1", TypeCompression, nil)
	compressedPayload, err := h.store.Get(t.Context(), document.FilePath)
	if err != nil {
		t.Fatalf("get compressed payload failed: %v", err)
	}
	mustRun(t, h, "user-1", TypeEncryption, nil)

	compressionBackup, err := h.store.Get(t.Context(), storage.BackupKey(document.FilePath, backupCompression))
	if err != nil {
		t.Fatalf("compression backup missing: %v", err)
	}
	if string(compressionBackup) != content {
		t.Fatalf("compression backup no longer holds the original bytes")
	}
	encryptionBackup, err := h.store.Get(t.Context(), storage.BackupKey(document.FilePath, backupEncryption))
	if err != nil {
		t.Fatalf("encryption backup missing: %v", err)
	}
	if !bytes.Equal(encryptionBackup, compressedPayload) {
		t.Fatalf("encryption backup should hold the compressed payload")
	}

	history, err := h.documents.ListHistory(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	paths := map[documents.HistoryAction]any{}
	for _, entry := range history {
		paths[entry.Action] = entry.Changes["backup_path"]
	}
	if paths[documents.HistoryActionCompressed] != storage.BackupKey(document.FilePath, backupCompression) {
		t.Fatalf("unexpected compression backup_path %v", paths[documents.HistoryActionCompressed])
	}
	if paths[documents.HistoryActionEncrypted] != storage.BackupKey(document.FilePath, backupEncryption) {
		t.Fatalf("unexpected encryption backup_path %v", paths[documents.HistoryActionEncrypted])
	}
}

func TestCompressionSkipsSmallDocuments(t *testing.T) {
	h := newTestHarness(t)
	mustUpload(t, h, "user-1", "tiny")

	migration := mustRun(t, h, "user-1", TypeCompression, nil)
	summary := migration.Summary.Data()
	if migration.DocumentsAffected != 0 || summary.Skipped != 1 {
		t.Fatalf("expected one skipped document, got %+v", summary)
	}
	if summary.Items[0].Reason != "not_compressible" {
		t.Fatalf("unexpected skip reason %q", summary.Items[0].Reason)
	}
}

func TestDocumentFailureDoesNotFailMigration(t *testing.T) {
	h := newTestHarness(t)
	broken := mustUpload(t, h, "user-1", "first document")
	mustUpload(t, h, "user-1", "second document")
	if err := h.store.Delete(t.Context(), broken.FilePath); err != nil {
		t.Fatalf("delete blob failed: %v", err)
	}

	migration := mustRun(t, h, "user-1", TypeEncryption, nil)
	if migration.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", migration.Status)
	}
	summary := migration.Summary.Data()
	if migration.DocumentsAffected != 1 || summary.Failed != 1 {
		t.Fatalf("expected one success and one failure, got %+v", summary)
	}
	if countEvent(migration, logEventDocumentError) != 1 {
		t.Fatalf("expected one document_error entry, got %v", logEvents(migration))
	}
	for _, item := range summary.Items {
		if item.DocumentID == broken.ID && item.Status != documents.ItemStatusFailed {
			t.Fatalf("expected broken document to fail, got %+v", item)
		}
	}
}

func TestEncryptionCheckpointsProgress(t *testing.T) {
	h := newTestHarness(t)
	for index := 0; index < 12; index++ {
		mustUpload(t, h, "user-1", fmt.Sprintf("document number %d", index))
	}

	migration := mustRun(t, h, "user-1", TypeEncryption, nil)
	if migration.DocumentsAffected != 12 {
		t.Fatalf("expected 12 documents, got %d", migration.DocumentsAffected)
	}
	if got := countEvent(migration, logEventProgress); got != 2 {
		t.Fatalf("expected two progress entries, got %d (%v)", got, logEvents(migration))
	}
	progressEvents := 0
	for _, eventType := range h.publisher.types(migration.MigrationID) {
		if eventType == events.TypeMigrationProgress {
			progressEvents++
		}
	}
	if progressEvents != 2 {
		t.Fatalf("expected two progress events, got %d", progressEvents)
	}
}

func TestStorageMigrationRelocatesIntoGroupDirectory(t *testing.T) {
	h := newTestHarness(t)
	document := mustUpload(t, h, "user-1", "relocate me")

	migration := mustRun(t, h, "user-1", TypeStorage, nil)
	if migration.DocumentsAffected != 1 {
		t.Fatalf("expected one relocation, got %d", migration.DocumentsAffected)
	}
	moved, err := h.documents.Get(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	want := documents.GroupedFileKey("user-1", document.VersionGroupID, 1, ".txt")
	if moved.FilePath != want {
		t.Fatalf("expected %s, got %s", want, moved.FilePath)
	}
	oldExists, err := h.store.Exists(t.Context(), document.FilePath)
	if err != nil || oldExists {
		t.Fatalf("expected old blob to be gone, exists=%v err=%v", oldExists, err)
	}
	content, _, err := h.documents.ReadContent(t.Context(), "user-1", document.ID)
	if err != nil || string(content) != "relocate me" {
		t.Fatalf("unexpected content %q err=%v", content, err)
	}

	again := mustRun(t, h, "user-1", TypeStorage, nil)
	if again.DocumentsAffected != 0 || again.Summary.Data().Skipped != 1 {
		t.Fatalf("expected relocated document to be skipped, got %+v", again.Summary.Data())
	}
}

func TestVersionsCreatedAfterRelocationStayGrouped(t *testing.T) {
	h := newTestHarness(t)
	document := mustUpload(t, h, "user-1", "relocate then revise")
	mustRun(t, h, "user-1", TypeStorage, nil)

	next, err := h.documents.CreateVersion(t.Context(), documents.CreateVersionRequest{
		DocumentID: document.ID,
		UserID:     "user-1",
		Content:    []byte("relocate then revise again"),
	})
	if err != nil {
		t.Fatalf("create version failed: %v", err)
	}
	want := documents.GroupedFileKey("user-1", document.VersionGroupID, 2, ".txt")
	if next.FilePath != want {
		t.Fatalf("expected %s, got %s", want, next.FilePath)
	}

	again := mustRun(t, h, "user-1", TypeStorage, nil)
	if again.DocumentsAffected != 0 {
		t.Fatalf("expected nothing left to relocate, got %+v", again.Summary.Data())
	}
}

func TestVersionUpgradeBackfillsLegacyRows(t *testing.T) {
	h := newTestHarness(t)
	document := mustUpload(t, h, "user-1", "legacy content")
	if err := h.db.Model(&documents.Document{}).Where("id = ?", document.ID).Updates(map[string]any{
		"version_group_id":   "",
		"checksum":           "",
		"is_current_version": false,
	}).Error; err != nil {
		t.Fatalf("failed to age row: %v", err)
	}

	migration := mustRun(t, h, "user-1", TypeVersionUpgrade, nil)
	if migration.DocumentsAffected != 1 {
		t.Fatalf("expected one upgraded document, got %d", migration.DocumentsAffected)
	}
	upgraded, err := h.documents.Get(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if upgraded.VersionGroupID == "" || upgraded.Checksum != documents.Checksum([]byte("legacy content")) {
		t.Fatalf("expected backfilled group and checksum, got %+v", upgraded)
	}
	if !upgraded.IsCurrentVersion {
		t.Fatalf("expected sole version to become current")
	}

	again := mustRun(t, h, "user-1", TypeVersionUpgrade, nil)
	if again.DocumentsAffected != 0 || again.Summary.Data().Items[0].Reason != "up_to_date" {
		t.Fatalf("expected up_to_date skip, got %+v", again.Summary.Data())
	}
}

func TestFormatMigrationCorrectsMimeType(t *testing.T) {
	h := newTestHarness(t)
	document := mustUpload(t, h, "user-1", "plain words only")
	if err := h.db.Model(&documents.Document{}).Where("id = ?", document.ID).
		Update("mime_type", "application/pdf").Error; err != nil {
		t.Fatalf("failed to corrupt mime type: %v", err)
	}

	migration := mustRun(t, h, "user-1", TypeFormat, nil)
	if migration.DocumentsAffected != 1 {
		t.Fatalf("expected one corrected document, got %d", migration.DocumentsAffected)
	}
	corrected, err := h.documents.Get(t.Context(), "user-1", document.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if corrected.MimeType != "text/plain" {
		t.Fatalf("expected text/plain, got %s", corrected.MimeType)
	}
}

func TestCancelOnlyAppliesToPendingMigrations(t *testing.T) {
	h := newTestHarness(t)
	created, err := h.service.Create(t.Context(), "user-1", string(TypeEncryption), nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := h.service.Cancel(t.Context(), "user-2", created.MigrationID); !errors.Is(err, ErrMigrationNotFound) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}
	cancelled, err := h.service.Cancel(t.Context(), "user-1", created.MigrationID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("expected cancelled migration, got %+v", cancelled)
	}
	if _, err := h.service.Execute(t.Context(), created.MigrationID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected executor to refuse cancelled migration, got %v", err)
	}
	if _, err := h.service.Cancel(t.Context(), "user-1", created.MigrationID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestExecuteRejectsFinishedMigration(t *testing.T) {
	h := newTestHarness(t)
	migration := mustRun(t, h, "user-1", TypeCleanup, nil)
	_, err := h.service.Execute(t.Context(), migration.MigrationID)
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "migrations.execute.not_pending" {
		t.Fatalf("unexpected error code %v", err)
	}
}

func TestListReturnsOnlyOwnMigrations(t *testing.T) {
	h := newTestHarness(t)
	mustRun(t, h, "user-1", TypeCleanup, nil)
	mustRun(t, h, "user-1", TypeFormat, nil)
	mustRun(t, h, "user-2", TypeCleanup, nil)

	migrations, err := h.service.List(t.Context(), "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(migrations) != 2 || migrations[0].MigrationType != TypeFormat {
		t.Fatalf("unexpected list %+v", migrations)
	}
}

func TestInlineDispatcherRunsCreatedMigration(t *testing.T) {
	h := newTestHarness(t)
	mustUpload(t, h, "user-1", "dispatch me")
	dispatcher := NewInlineDispatcher(h.service, nil)
	h.service.UseDispatcher(dispatcher)

	created, err := h.service.Create(t.Context(), "user-1", string(TypeEncryption), nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	dispatcher.Wait()

	finished, err := h.service.Get(t.Context(), "user-1", created.MigrationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if finished.Status != StatusCompleted || finished.DocumentsAffected != 1 {
		t.Fatalf("expected completed run, got %s with %d", finished.Status, finished.DocumentsAffected)
	}
}
