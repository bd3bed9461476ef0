package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeroom/services/homeroom/internal/domain"
)

func turn(i int) domain.Message {
	role := domain.RoleUser
	if i%2 == 1 {
		role = domain.RoleAssistant
	}
	return domain.Message{Role: role, Content: fmt.Sprintf("m%d", i)}
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "1.2.3.4|curl/8", ClientKey("1.2.3.4", "curl/8"))

	ua := strings.Repeat("a", 40)
	assert.Equal(t, "::1|"+strings.Repeat("a", 32), ClientKey("::1", ua))

	// 3-byte runes: 32 is not a boundary, 30 is.
	key := ClientKey("::1", strings.Repeat("あ", 20))
	assert.True(t, utf8.ValidString(key))
	assert.Equal(t, "::1|"+strings.Repeat("あ", 10), key)

	key = ClientKey("::1", "x"+strings.Repeat("é", 20))
	assert.True(t, utf8.ValidString(key))
	assert.Equal(t, "::1|x"+strings.Repeat("é", 15), key)
}

func TestMemoryHistory_KeepsNewestMessages(t *testing.T) {
	h := NewMemoryHistory(4, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, h.Append(ctx, "a", turn(i)))
	}

	got, err := h.Recent(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "m7", got[0].Content)
	assert.Equal(t, "m11", got[4].Content)
}

func TestMemoryHistory_DropsImagesAndIsolatesCopies(t *testing.T) {
	h := NewMemoryHistory(4, 5)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "a", domain.Message{Role: domain.RoleUser, Content: "q", Image: &domain.Image{Data: "QUJD"}}))
	got, _ := h.Recent(ctx, "a")
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Image)

	got[0].Content = "mutated"
	again, _ := h.Recent(ctx, "a")
	assert.Equal(t, "q", again[0].Content)
}

func TestMemoryHistory_EvictsLeastRecentClient(t *testing.T) {
	h := NewMemoryHistory(2, 5)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "a", turn(0)))
	require.NoError(t, h.Append(ctx, "b", turn(0)))
	_, _ = h.Recent(ctx, "a")
	require.NoError(t, h.Append(ctx, "c", turn(0)))

	assert.Equal(t, 2, h.Len())
	b, _ := h.Recent(ctx, "b")
	assert.Empty(t, b)
	a, _ := h.Recent(ctx, "a")
	assert.Len(t, a, 1)
}

func TestMemoryHistory_ConcurrentAppends(t *testing.T) {
	h := NewMemoryHistory(16, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = h.Append(ctx, "shared", turn(i))
			}
		}()
	}
	wg.Wait()

	got, _ := h.Recent(ctx, "shared")
	assert.Len(t, got, 400)
}

func TestRedisHistory_CapsAndExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	h := NewRedisHistory(client, "hr:", 4, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "1.2.3.4|ua", turn(0), turn(1), turn(2)))
	require.NoError(t, h.Append(ctx, "1.2.3.4|ua", turn(3), turn(4)))

	got, err := h.Recent(ctx, "1.2.3.4|ua")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "m1", got[0].Content)
	assert.Equal(t, domain.RoleAssistant, got[0].Role)
	assert.Equal(t, "m4", got[3].Content)

	assert.True(t, mr.Exists("hr:history:1.2.3.4|ua"))
	assert.Equal(t, time.Hour, mr.TTL("hr:history:1.2.3.4|ua"))

	empty, err := h.Recent(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
