package subscription

import (
	"errors"
	"sync"
	"testing"

	"angelone_tickstream/models"
	"angelone_tickstream/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := resolver.New()
	r.Register(models.NSE_CM, map[string]string{"101": "X", "102": "Y", "103": "Z"})
	r.Register(models.BSE_CM, map[string]string{"500325": "RELIANCE"})
	return NewRegistry(r)
}

func TestAddThenRemove(t *testing.T) {
	reg := newTestRegistry()

	added, err := reg.Add(models.NSE_CM, models.QuoteMode, []string{"101", "102"})
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102"}, added.Accepted.Tokens)
	assert.Empty(t, added.Rejected)
	assert.Equal(t, 2, reg.Len())

	removed, err := reg.Remove([]string{"101", "999"})
	require.NoError(t, err)
	assert.Equal(t, []string{"999"}, removed.Unknown)
	assert.Equal(t, []Group{{Exchange: models.NSE_CM, Mode: models.QuoteMode, Tokens: []string{"101"}}}, removed.Removed)
	assert.Equal(t, 1, reg.Len())

	mode, ok := reg.Mode("102")
	assert.True(t, ok)
	assert.Equal(t, models.QuoteMode, mode)
}

func TestAddRejectsUnresolvedTokens(t *testing.T) {
	reg := newTestRegistry()

	res, err := reg.Add(models.NSE_CM, models.LtpMode, []string{"101", "nope", "500325", "101"})
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, res.Accepted.Tokens)
	assert.Equal(t, []string{"nope", "500325"}, res.Rejected)

	snap := reg.SnapshotForResubscribe()
	assert.Equal(t, []Group{{Exchange: models.NSE_CM, Mode: models.LtpMode, Tokens: []string{"101"}}}, snap)
}

func TestAddOverwritesMode(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.Add(models.NSE_CM, models.LtpMode, []string{"101"})
	require.NoError(t, err)
	_, err = reg.Add(models.NSE_CM, models.SnapQuoteMode, []string{"101"})
	require.NoError(t, err)

	mode, ok := reg.Mode("101")
	assert.True(t, ok)
	assert.Equal(t, models.SnapQuoteMode, mode)
	assert.Equal(t, 1, reg.Len())
}

func TestSnapshotGroupsByExchangeAndMode(t *testing.T) {
	reg := newTestRegistry()
	_, _ = reg.Add(models.BSE_CM, models.QuoteMode, []string{"500325"})
	_, _ = reg.Add(models.NSE_CM, models.QuoteMode, []string{"103", "101"})
	_, _ = reg.Add(models.NSE_CM, models.LtpMode, []string{"102"})

	assert.Equal(t, []Group{
		{Exchange: models.NSE_CM, Mode: models.LtpMode, Tokens: []string{"102"}},
		{Exchange: models.NSE_CM, Mode: models.QuoteMode, Tokens: []string{"101", "103"}},
		{Exchange: models.BSE_CM, Mode: models.QuoteMode, Tokens: []string{"500325"}},
	}, reg.SnapshotForResubscribe())
}

func TestEmptyTokenSetsAreReported(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.Add(models.NSE_CM, models.LtpMode, nil)
	assert.True(t, errors.Is(err, ErrNoTokens))
	_, err = reg.Remove([]string{})
	assert.True(t, errors.Is(err, ErrNoTokens))
}

func TestAddInvalidMode(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.Add(models.NSE_CM, models.SubscriptionMode(4), []string{"101"})
	assert.Error(t, err)
	assert.Zero(t, reg.Len())
}

func TestConcurrentAddRemove(t *testing.T) {
	reg := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.Add(models.NSE_CM, models.QuoteMode, []string{"101", "102", "103"})
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Remove([]string{"102"})
			_ = reg.SnapshotForResubscribe()
		}()
	}
	wg.Wait()

	for _, g := range reg.SnapshotForResubscribe() {
		assert.Equal(t, models.NSE_CM, g.Exchange)
		assert.Equal(t, models.QuoteMode, g.Mode)
	}
}
