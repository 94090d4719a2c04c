package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(periods ...Period) *Ledger {
	return NewLedger("m-1", periods, func() time.Time { return fixedNow }, sequenceIDs("p"))
}

func TestLedgerRejectsOverlapWithOpenPeriod(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(period("p-open", "2024-03-01", nil, "ORDENTLICH"))
	before := ledger.Periods()

	_, err := ledger.Create(mustDay("2024-06-01"), dayRef("2024-08-01"), "ORDENTLICH", "")
	require.True(t, errors.Is(err, ErrOverlap))
	assert.Equal(t, before, ledger.Periods())
}

func TestLedgerCreate(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(period("p-old", "2022-01-15", dayRef("2023-12-31"), "PASSIV"))

	// half-open intervals let a period start on the previous leave date
	p, err := ledger.Create(mustDay("2023-12-31"), nil, "ORDENTLICH", "rejoined")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "m-1", p.MemberID)
	assert.True(t, p.IsOpen())
	assert.Equal(t, fixedNow, p.CreatedAt)

	_, err = ledger.Create(mustDay("2020-01-01"), nil, "ORDENTLICH", "")
	require.True(t, errors.Is(err, ErrOverlap), "second open period")

	_, err = ledger.Create(mustDay("2021-05-01"), dayRef("2021-04-01"), "ORDENTLICH", "")
	require.True(t, errors.Is(err, ErrInvalidRange))

	_, err = ledger.Create(mustDay("2021-01-01"), dayRef("2022-01-16"), "PASSIV", "")
	require.True(t, errors.Is(err, ErrOverlap))

	_, err = ledger.Create(mustDay("2021-01-01"), dayRef("2022-01-15"), "PASSIV", "")
	require.NoError(t, err)

	require.NoError(t, ledger.Validate())
	assert.Equal(t, []string{"p-5", "p-old", "p-1"}, periodIDs(ledger.Periods()))
}

func TestLedgerCloseAndReopen(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(
		period("p-old", "2022-01-15", dayRef("2023-12-31"), "PASSIV"),
		period("p-open", "2024-03-01", nil, "ORDENTLICH"),
	)

	_, err := ledger.Close("missing", mustDay("2024-05-01"))
	require.True(t, errors.Is(err, ErrPeriodNotFound))
	_, err = ledger.Close("p-old", mustDay("2024-05-01"))
	require.True(t, errors.Is(err, ErrNotOpen))
	_, err = ledger.Close("p-open", mustDay("2024-02-01"))
	require.True(t, errors.Is(err, ErrInvalidRange))

	closed, err := ledger.Close("p-open", time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, closed.LeaveDate)
	assert.Equal(t, mustDay("2024-05-01"), *closed.LeaveDate)

	_, err = ledger.Reopen("p-old")
	require.True(t, errors.Is(err, ErrOverlap), "reopening the older period would overlap the newer one")

	reopened, err := ledger.Reopen("p-open")
	require.NoError(t, err)
	assert.True(t, reopened.IsOpen())

	_, err = ledger.Reopen("p-open")
	require.True(t, errors.Is(err, ErrAlreadyOpen))
	_, err = ledger.Reopen("missing")
	require.True(t, errors.Is(err, ErrPeriodNotFound))
}

func TestLedgerReopenRefusesSecondOpenPeriod(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(
		period("p-late", "2025-01-01", dayRef("2025-06-01"), "PASSIV"),
		period("p-open", "2024-03-01", dayRef("2024-09-01"), "ORDENTLICH"),
	)
	_, err := ledger.Reopen("p-open")
	require.True(t, errors.Is(err, ErrOverlap))

	_, err = ledger.Reopen("p-late")
	require.NoError(t, err)
}

func TestLedgerFindAt(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(
		period("p-old", "2022-01-15", dayRef("2023-12-31"), "PASSIV"),
		period("p-open", "2024-03-01", nil, "ORDENTLICH"),
	)

	p, ok := ledger.FindAt(mustDay("2023-12-30"))
	require.True(t, ok)
	assert.Equal(t, "p-old", p.ID)

	_, ok = ledger.FindAt(mustDay("2023-12-31"))
	assert.False(t, ok, "leave date is exclusive")

	p, ok = ledger.FindAt(mustDay("2030-01-01"))
	require.True(t, ok)
	assert.Equal(t, "p-open", p.ID)

	open, ok := ledger.FindOpen()
	require.True(t, ok)
	assert.Equal(t, "p-open", open.ID)

	assert.Len(t, ledger.FindOverlapping(mustDay("2023-01-01"), dayRef("2024-03-02"), ""), 2)
	assert.Len(t, ledger.FindOverlapping(mustDay("2023-01-01"), dayRef("2024-03-02"), "p-old"), 1)
	assert.Empty(t, ledger.FindOverlapping(mustDay("2023-12-31"), dayRef("2024-03-01"), ""))
}

func TestLedgerValidate(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(
		period("p-a", "2022-01-01", nil, "PASSIV"),
		period("p-b", "2024-01-01", nil, "ORDENTLICH"),
	)
	require.True(t, errors.Is(ledger.Validate(), ErrOverlap))

	ledger = newTestLedger(period("p-a", "2022-01-01", dayRef("2021-01-01"), "PASSIV"))
	require.True(t, errors.Is(ledger.Validate(), ErrInvalidRange))
}

func TestLedgerPeriodsAreCopies(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(period("p-a", "2022-01-01", dayRef("2023-01-01"), "PASSIV"))
	periods := ledger.Periods()
	*periods[0].LeaveDate = mustDay("2030-01-01")

	got, ok := ledger.Get("p-a")
	require.True(t, ok)
	assert.Equal(t, mustDay("2023-01-01"), *got.LeaveDate)
}
