package resolver

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"angelone_tickstream/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := New()
	r.Register(models.NSE_CM, map[string]string{"2885": "RELIANCE-EQ", "1594": "INFY-EQ"})

	e, err := r.Resolve("2885")
	require.NoError(t, err)
	assert.Equal(t, Entry{Name: "RELIANCE-EQ", Exchange: models.NSE_CM}, e)

	_, err = r.Resolve("999")
	assert.True(t, errors.Is(err, ErrTokenNotFound))
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "999", resErr.Token)
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	r.Register(models.NSE_CM, map[string]string{"2885": "RELIANCE"})
	r.Register(models.BSE_CM, map[string]string{"2885": "RELIANCE-EQ"})

	e, err := r.Resolve("2885")
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE-EQ", e.Name)
	assert.Equal(t, models.BSE_CM, e.Exchange)
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentRegisterAndResolve(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tok := strconv.Itoa(i)
				r.Register(models.NSE_CM, map[string]string{tok: "SYM" + tok})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if e, err := r.Resolve(strconv.Itoa(i)); err == nil {
					assert.Equal(t, "SYM"+strconv.Itoa(i), e.Name)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}
