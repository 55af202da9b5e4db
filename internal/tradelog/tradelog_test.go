package tradelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htf-exchange/matching-engine/internal/domain"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

func TestRecordAppendsInSubmissionOrder(t *testing.T) {
	log := New()

	require.NoError(t, log.Record(domain.Trade{Instrument: "BTC", Price: 100, Quantity: 5, Aggressor: domain.Buy}))
	require.NoError(t, log.Record(domain.Trade{Instrument: "BTC", Price: 101, Quantity: 3, Aggressor: domain.Sell}))

	trades := log.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, 100.0, trades[0].Price)
	assert.Equal(t, 101.0, trades[1].Price)
}

func TestRecordRejectsInvalidAggressor(t *testing.T) {
	log := New()

	err := log.Record(domain.Trade{Instrument: "BTC", Price: 100, Quantity: 5, Aggressor: domain.Side("sideways")})
	require.Error(t, err)
	assert.Equal(t, exerrors.InvalidAggressor, exerrors.GetErrorCode(err))
	assert.Empty(t, log.Trades())
}

func TestTradesReturnsDefensiveCopy(t *testing.T) {
	log := New()
	require.NoError(t, log.Record(domain.Trade{Instrument: "BTC", Price: 100, Quantity: 5, Aggressor: domain.Buy}))

	trades := log.Trades()
	trades[0].Price = 999

	fresh := log.Trades()
	assert.Equal(t, 100.0, fresh[0].Price, "mutating the returned slice must not affect the log's internal state")
}

func TestStringRendersEveryTrade(t *testing.T) {
	log := New()
	require.NoError(t, log.Record(domain.Trade{
		Instrument: "BTC", Price: 100, Quantity: 5, Aggressor: domain.Buy,
		BuyParticipantID: "U1", SellParticipantID: "U2",
	}))

	rendered := log.String()
	assert.Contains(t, rendered, "BTC")
	assert.Contains(t, rendered, "U1")
	assert.Contains(t, rendered, "U2")
}
