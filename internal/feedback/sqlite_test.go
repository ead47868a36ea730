package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammography-findings-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testReview(studyID, findingID string, engine, reviewer domain.BIRADSCategory) *Review {
	return &Review{
		StudyID:          studyID,
		FindingID:        findingID,
		EngineCategory:   engine,
		ReviewerCategory: reviewer,
		Reviewer:         "dr-lee",
		RulesVersion:     "2024.1",
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "reviews.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	r := testReview("S1", "S1-F1", domain.BIRADS4B, domain.BIRADS4B)
	r.Notes = "Concordant"
	require.NoError(t, store.Save(ctx, r))
	assert.NotZero(t, r.ID)
	assert.True(t, r.Agreed)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := store.Get(ctx, "S1", "S1-F1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, domain.BIRADS4B, got.EngineCategory)
	assert.Equal(t, domain.BIRADS4B, got.ReviewerCategory)
	assert.True(t, got.Agreed)
	assert.Equal(t, "dr-lee", got.Reviewer)
	assert.Equal(t, "2024.1", got.RulesVersion)
	assert.Equal(t, "Concordant", got.Notes)
}

func TestSQLiteStore_SaveReplacesSameFinding(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	first := testReview("S1", "S1-F1", domain.BIRADS3, domain.BIRADS3)
	require.NoError(t, store.Save(ctx, first))

	second := testReview("S1", "S1-F1", domain.BIRADS3, domain.BIRADS4A)
	second.Notes = "Upgraded after ultrasound"
	require.NoError(t, store.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Agreed)

	got, err := store.Get(ctx, "S1", "S1-F1")
	require.NoError(t, err)
	assert.Equal(t, domain.BIRADS4A, got.ReviewerCategory)
	assert.False(t, got.Agreed)
	assert.Equal(t, "Upgraded after ultrasound", got.Notes)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_StudyLevelReviewIsSeparate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testReview("S1", "", domain.BIRADS0, domain.BIRADS0)))
	require.NoError(t, store.Save(ctx, testReview("S1", "S1-F1", domain.BIRADS2, domain.BIRADS2)))

	overall, err := store.Get(ctx, "S1", "")
	require.NoError(t, err)
	require.NotNil(t, overall)
	assert.Equal(t, domain.BIRADS0, overall.EngineCategory)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSQLiteStore_SaveRejectsInvalid(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		review *Review
	}{
		{"missing study", testReview("", "F1", domain.BIRADS2, domain.BIRADS2)},
		{"bad engine category", testReview("S1", "F1", "7", domain.BIRADS2)},
		{"bad reviewer category", testReview("S1", "F1", domain.BIRADS2, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.Save(ctx, tt.review), ErrInvalidReview)
		})
	}
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := createTestStore(t)

	got, err := store.Get(context.Background(), "missing", "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ListPagination(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, testReview(fmt.Sprintf("S%d", i), "", domain.BIRADS1, domain.BIRADS1)))
		time.Sleep(5 * time.Millisecond)
	}

	page1, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "S4", page1[0].StudyID)

	page3, err := store.List(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "S0", page3[0].StudyID)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	r := testReview("S1", "", domain.BIRADS2, domain.BIRADS2)
	require.NoError(t, store.Save(ctx, r))
	require.NoError(t, store.Delete(ctx, r.ID))

	got, err := store.Get(ctx, "S1", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_AgreementRate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	empty, err := store.AgreementRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, Agreement{}, empty)

	require.NoError(t, store.Save(ctx, testReview("S1", "F1", domain.BIRADS2, domain.BIRADS2)))
	require.NoError(t, store.Save(ctx, testReview("S1", "F2", domain.BIRADS3, domain.BIRADS3)))
	require.NoError(t, store.Save(ctx, testReview("S1", "F3", domain.BIRADS4A, domain.BIRADS3)))
	require.NoError(t, store.Save(ctx, testReview("S2", "F1", domain.BIRADS5, domain.BIRADS5)))

	a, err := store.AgreementRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.Total)
	assert.Equal(t, int64(3), a.Agreed)
	assert.InDelta(t, 0.75, a.Rate, 1e-9)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	src := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, src.Save(ctx, testReview("S1", "F1", domain.BIRADS2, domain.BIRADS2)))
	require.NoError(t, src.Save(ctx, testReview("S2", "", domain.BIRADS4C, domain.BIRADS5)))

	var buf bytes.Buffer
	require.NoError(t, src.ExportJSON(ctx, &buf))

	var export ReviewExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 2, export.Count)

	dst := createTestStore(t)
	require.NoError(t, dst.Save(ctx, testReview("S1", "F1", domain.BIRADS2, domain.BIRADS3)))

	imported, skipped, err := dst.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	kept, err := dst.Get(ctx, "S1", "F1")
	require.NoError(t, err)
	assert.Equal(t, domain.BIRADS3, kept.ReviewerCategory)

	_, _, err = dst.ImportJSON(ctx, bytes.NewReader([]byte("{not json")))
	assert.Error(t, err)
}

func TestSQLiteStore_ExportEmpty(t *testing.T) {
	store := createTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))
	assert.Contains(t, buf.String(), `"reviews": []`)
}
