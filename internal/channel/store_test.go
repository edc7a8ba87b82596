package channel_test

import (
	"sync"
	"testing"

	"github.com/chinmina/channel-auth-bridge/internal/channel"
	"github.com/stretchr/testify/assert"
)

func TestStore_Identifier(t *testing.T) {
	s := channel.NewStore("chan-1")
	assert.Equal(t, "chan-1", s.Identifier())
}

func TestStore_ZeroValue(t *testing.T) {
	var s channel.Store
	assert.Equal(t, "", s.Identifier())

	assert.True(t, s.Update("chan-1"))
	assert.Equal(t, "chan-1", s.Identifier())
}

func TestStore_Update(t *testing.T) {
	s := channel.NewStore("chan-1")

	assert.False(t, s.Update("chan-1"), "same identifier is not a change")
	assert.True(t, s.Update("chan-2"))
	assert.Equal(t, "chan-2", s.Identifier())
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := channel.NewStore("chan-0")

	var wg sync.WaitGroup
	for _, id := range []string{"chan-1", "chan-2", "chan-3"} {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Update(id)
		}()
		go func() {
			defer wg.Done()
			assert.Contains(t, []string{"chan-0", "chan-1", "chan-2", "chan-3"}, s.Identifier())
		}()
	}
	wg.Wait()
}
