package pagination

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 123, time.UTC)
	encoded := EncodeCursor(Cursor{CreatedAt: at, ID: 77})

	parsed, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.True(t, parsed.CreatedAt.Equal(at))
	require.Equal(t, uint(77), parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	parsed, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, parsed)

	_, err = ParseCursor("%%%")
	require.ErrorIs(t, err, ErrInvalidCursor)

	_, err = ParseCursor(EncodeCursor(Cursor{CreatedAt: time.Now()}))
	require.ErrorIs(t, err, ErrInvalidCursor, "zero id is not a valid cursor")
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 10, NormalizeLimit(10))
	require.Equal(t, 11, LimitWithBuffer(10))
}

type row struct {
	ID        uint
	CreatedAt time.Time
}

func TestPageWalksNewestFirst(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&row{}))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// Two rows share a timestamp so the id tiebreak is exercised.
	for i, offset := range []int{0, 1, 1, 2, 3} {
		require.NoError(t, conn.Create(&row{ID: uint(i + 1), CreatedAt: base.Add(time.Duration(offset) * time.Minute)}).Error)
	}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.CreatedAt, ID: r.ID} }

	var seen []uint
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		rows, next, err := Page(conn.Model(&row{}), Params{Limit: 2, Cursor: cursor}, key)
		require.NoError(t, err)
		for _, r := range rows {
			seen = append(seen, r.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	require.Equal(t, []uint{5, 4, 3, 2, 1}, seen)

	_, _, err = Page(conn.Model(&row{}), Params{Cursor: "bogus!"}, key)
	require.ErrorIs(t, err, ErrInvalidCursor)
}
