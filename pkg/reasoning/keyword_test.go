package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/value"
)

func TestDetectAction(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Pay my electricity bill", "PAY_BILL"},
		{"Book a flight from Delhi to Tokyo", "BOOK_FLIGHT"},
		{"Take the shinkansen to Kyoto", "BOOK_TRAIN"},
		{"Find a hotel in Osaka", "BOOK_HOTEL"},
		{"Dinner for two", "BOOK_RESTAURANT"},
		{"Museum tickets", "BOOK_ATTRACTION"},
		{"Get me a taxi", "BOOK_TRANSPORT"},
		{"Pay John 500 dollars", "MAKE_PAYMENT"},
		{"What's the weather?", ActionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectAction(tt.text))
		})
	}
}

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"pay ₹6,200 now", 6200, true},
		{"Rs. 3000 for water", 3000, true},
		{"INR 1,25,000", 125000, true},
		{"about $45.50", 45.5, true},
		{"¥15,000 per night", 15000, true},
		{"EUR 99", 99, true},
		{"120 USD", 120, true},
		{"no amount here", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractAmount(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordReasoner_Payment(t *testing.T) {
	r := NewKeywordReasoner(nil)

	a, err := r.Reason(context.Background(), "Pay my electricity bill of ₹6200")
	require.NoError(t, err)
	assert.Equal(t, "PAY_BILL", a.Action)
	assert.Equal(t, value.Number(6200), a.Slots["amount"])
	assert.Equal(t, value.String("ELECTRICITY_BOARD"), a.Slots["merchant"])
	assert.Equal(t, []string{
		"Identify electricity board",
		"Retrieve bill amount: ₹6200",
		"Propose a payment intent",
		"Submit for policy evaluation",
	}, a.Steps)
	assert.Contains(t, a.Text, "ELECTRICITY_BOARD")
}

func TestKeywordReasoner_PaymentWithoutAmount(t *testing.T) {
	a, err := NewKeywordReasoner(nil).Reason(context.Background(), "pay the water bill")
	require.NoError(t, err)
	_, ok := a.Slots["amount"]
	assert.False(t, ok)
	assert.Equal(t, value.String("WATER_UTILITY"), a.Slots["merchant"])
}

func TestKeywordReasoner_Booking(t *testing.T) {
	a, err := NewKeywordReasoner(nil).Reason(context.Background(),
		"Book a train from Tokyo to Osaka on 2025-04-02 at 09:30 for 2 people, $120 on klook.com")
	require.NoError(t, err)
	assert.Equal(t, "BOOK_TRAIN", a.Action)
	assert.Equal(t, value.String("Tokyo"), a.Slots["origin"])
	assert.Equal(t, value.String("Osaka"), a.Slots["destination"])
	assert.Equal(t, value.String("2025-04-02"), a.Slots["date"])
	assert.Equal(t, value.String("09:30"), a.Slots["time"])
	assert.Equal(t, value.Number(2), a.Slots["travelers"])
	assert.Equal(t, value.Number(120), a.Slots["price"])
	assert.Equal(t, value.String("klook.com"), a.Slots["website"])
}

func TestKeywordReasoner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywordReasoner(nil).Reason(ctx, "pay bill")
	assert.ErrorIs(t, err, context.Canceled)
}
