package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct {
	Position int64
}

func TestBuildCursorPage(t *testing.T) {
	data := []*row{{1}, {2}, {3}}

	page, info, err := BuildCursorPage(data, 2, func(r *row) Cursor { return Cursor{Position: r.Position} })
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, int64(2), cursor.Position)

	page, info, err = BuildCursorPage(data[2:], 2, func(r *row) Cursor { return Cursor{Position: r.Position} })
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, 5, Pagination{Limit: 5}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Size())
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)
}
