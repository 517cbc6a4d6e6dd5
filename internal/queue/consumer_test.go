package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLine_ReservationConfirmed(t *testing.T) {
	body, err := json.Marshal(ReservationConfirmedEvent{
		ReservationID: 7,
		PopupID:       1,
		SlotID:        2,
		UserID:        42,
		Date:          "2026-11-01",
		StartTime:     "10:00",
		People:        2,
		Path:          "payment",
		MerchantRef:   "popup-abc",
		AmountCents:   10000,
		ConfirmedAt:   "2026-10-15T10:00:00Z",
	})
	require.NoError(t, err)

	line, err := auditLine(TypeReservationConfirmed, body)
	require.NoError(t, err)
	assert.Contains(t, line, "Reservation confirmed")
	assert.Contains(t, line, "reservation_id=7")
	assert.Contains(t, line, `ref="popup-abc"`)
	assert.Contains(t, line, "amount=10000 cents")
}

func TestAuditLine_HoldExpired(t *testing.T) {
	body, err := json.Marshal(HoldExpiredEvent{HoldID: "h1", MerchantRef: "popup-h1", People: 3})
	require.NoError(t, err)

	line, err := auditLine(TypeHoldExpired, body)
	require.NoError(t, err)
	assert.Contains(t, line, "Hold expired | hold_id=h1")
	assert.Contains(t, line, "people=3")
}

func TestAuditLine_Rejects(t *testing.T) {
	_, err := auditLine("something.else", []byte(`{}`))
	assert.Error(t, err)

	_, err = auditLine(TypeHoldExpired, []byte(`not json`))
	assert.Error(t, err)
}

func TestHandleMessage_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reservation.log")
	body, _ := json.Marshal(HoldExpiredEvent{HoldID: "a"})

	require.NoError(t, handleMessage(TypeHoldExpired, body, path))
	require.NoError(t, handleMessage(TypeHoldExpired, body, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
