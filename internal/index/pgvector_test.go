package index

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

func newMockPGIndex(t *testing.T) (*PGVectorIndex, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS product_vectors_test \(`).WillReturnResult(sqlmock.NewResult(0, 0))

	idx, err := NewPGVectorIndex(context.Background(), db, "product_vectors_test", 3)
	require.NoError(t, err)
	return idx, mock
}

func TestPGVectorIndex_QueryPushesFilters(t *testing.T) {
	idx, mock := newMockPGIndex(t)

	cols := []string{"id", "name", "description", "category", "brand", "price", "image_url", "source_url", "market", "distance"}
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, name, description, category, brand, price, image_url, source_url, market, (embedding <=> $1)::float8 AS distance "+
			"FROM product_vectors_test WHERE price >= $2 AND price <= $3 AND LOWER(category) = LOWER($4) "+
			"ORDER BY distance ASC, id ASC LIMIT 2")).
		WithArgs(sqlmock.AnyArg(), 10.0, 100.0, "Phones").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p1", "Phone One", "", "Phones", "Acme", 50.0, "", "", "", 0.0).
			AddRow("p2", "Phone Two", "", "Phones", "Acme", 60.0, "", "", "", 1.0))

	matches, err := idx.Query(context.Background(), []float32{1, 0, 0}, 2,
		Filter{MinPrice: ptr(10), MaxPrice: ptr(100), Category: "Phones"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "p1", matches[0].Product.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.InDelta(t, 0.5, matches[1].Similarity, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorIndex_GetNotFound(t *testing.T) {
	idx, mock := newMockPGIndex(t)

	mock.ExpectQuery("SELECT .* FROM product_vectors_test WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pgProductColumns))

	_, err := idx.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestPGVectorIndex_BackendFailureIsUnavailable(t *testing.T) {
	idx, mock := newMockPGIndex(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection refused"))

	_, err := idx.Count(context.Background())
	assert.True(t, errors.Is(err, domain.ErrIndexUnavailable))
	assert.Equal(t, "search temporarily unavailable", domain.UserMessage(err))
}

func TestPGVectorIndex_UpsertAndDiscard(t *testing.T) {
	idx, mock := newMockPGIndex(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO product_vectors_test (id,name,description,category,brand,price,image_url,source_url,market,embedding)")).
		WithArgs("p1", "Phone", "", "", "", 5.0, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP TABLE IF EXISTS product_vectors_test").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, idx.Upsert(context.Background(), []Entry{
		{Product: domain.Product{ID: "p1", Name: "Phone", Price: 5}, Vector: []float32{0, 0, 1}},
	}))
	require.NoError(t, Discard(context.Background(), idx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPGVectorIndex_RejectsBadTable(t *testing.T) {
	_, err := NewPGVectorIndex(context.Background(), nil, "products; DROP TABLE x", 3)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
