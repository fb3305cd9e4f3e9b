package settlement

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodStart = time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	runNow      = time.Date(2026, 3, 6, 9, 0, 5, 0, time.UTC)
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []TransferRequest
	failFor  map[string]bool
}

func (f *fakeGateway) CreateTransfer(_ context.Context, req TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failFor[req.Destination] {
		return "", apperrors.NewExternalServiceError(gatewayService, errors.New("503 from gateway"))
	}
	return "tr_" + req.Destination, nil
}

// dedupGateway honours idempotency keys the way a real gateway does: a
// repeated key returns the original transfer and moves no money.
type dedupGateway struct {
	mu        sync.Mutex
	transfers map[string]string
	moved     int64
}

func (g *dedupGateway) CreateTransfer(_ context.Context, req TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.transfers[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := fmt.Sprintf("tr_%d", len(g.transfers)+1)
	g.transfers[req.IdempotencyKey] = id
	g.moved += req.AmountCents
	return id, nil
}

type fakeSink struct {
	reports []*Report
	err     error
}

func (f *fakeSink) Index(_ context.Context, r *Report) error {
	f.reports = append(f.reports, r)
	return f.err
}

func newTestProcessor(t *testing.T, gw Transferer, sink ReportSink) (*Processor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := NewProcessor(db, gw, sink, Config{
		PlatformFeePct:     0.15,
		InsuranceFeePct:    0.02,
		MinimumPayoutCents: 5000,
		Currency:           "usd",
		Workers:            1,
	}, logger.NewTestLogger(t))
	p.now = func() time.Time { return runNow }
	return p, mock
}

func settleableRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "total_price_cents", "contractor_id", "payout_account_id"})
}

func expectSettlement(mock sqlmock.Sqlmock, contractorID string, amount int64, jobIDs ...string) {
	expectSettlementFor(mock, contractorID, "tr_acct_"+contractorID, amount, periodStart, periodEnd, jobIDs...)
}

func expectSettlementFor(mock sqlmock.Sqlmock, contractorID, transferID string, amount int64, start, end time.Time, jobIDs ...string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).
		WithArgs(sqlmock.AnyArg(), contractorID, amount, "usd", "PAID", transferID,
			IdempotencyKey(contractorID, jobIDs), start, end, runNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET payout_status = 'SETTLED'")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), runNow).
		WillReturnResult(sqlmock.NewResult(0, int64(len(jobIDs))))
	mock.ExpectCommit()
}

func TestRun_GroupBelowMinimumIsSkipped(t *testing.T) {
	gw := &fakeGateway{}
	p, mock := newTestProcessor(t, gw, nil)

	// 2500 + 2560 gross -> 2075 + 2125 = 4200 net, under the 5000 minimum.
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WithArgs(periodEnd).
		WillReturnRows(settleableRows().
			AddRow("j-1", int64(2500), "c-small", "acct_c-small").
			AddRow("j-2", int64(2560), "c-small", "acct_c-small"))

	report, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	assert.Equal(t, []string{"c-small"}, report.Skipped)
	assert.Empty(t, report.Paid)
	assert.Empty(t, report.Failed)
	assert.Empty(t, gw.requests, "no transfer may be issued for a skipped group")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_PaysEachContractorTheSumOfJobNets(t *testing.T) {
	gw := &fakeGateway{}
	sink := &fakeSink{}
	p, mock := newTestProcessor(t, gw, sink)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WillReturnRows(settleableRows().
			AddRow("j-1", int64(10000), "c-1", "acct_c-1").
			AddRow("j-2", int64(5000), "c-1", "acct_c-1").
			AddRow("j-3", int64(7001), "c-2", "acct_c-2").
			AddRow("j-4", int64(7001), "c-2", "acct_c-2"))
	expectSettlement(mock, "c-1", 12450, "j-1", "j-2")
	expectSettlement(mock, "c-2", 11622, "j-3", "j-4")

	report, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	require.Len(t, report.Paid, 2)

	assert.Equal(t, "c-1", report.Paid[0].ContractorID)
	assert.Equal(t, int64(12450), report.Paid[0].AmountCents)
	assert.Equal(t, []string{"j-1", "j-2"}, report.Paid[0].JobIDs)
	assert.Equal(t, "tr_acct_c-1", report.Paid[0].TransferID)
	assert.Equal(t, "PAID", report.Paid[0].Status)

	// Σ payouts equals Σ per-job nets of the settled jobs.
	var settledNet int64
	for _, price := range []int64{10000, 5000, 7001, 7001} {
		settledNet += NetCents(price, 0.15, 0.02)
	}
	assert.Equal(t, settledNet, report.TotalPaidCents())

	require.Len(t, gw.requests, 2)
	assert.Equal(t, IdempotencyKey("c-1", []string{"j-1", "j-2"}), gw.requests[0].IdempotencyKey)
	assert.Equal(t, gw.requests[0].IdempotencyKey, report.Paid[0].IdempotencyKey)
	assert.Equal(t, int64(12450), gw.requests[0].AmountCents)

	require.Len(t, sink.reports, 1)
	assert.Same(t, report, sink.reports[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_IsolatesFailuresPerContractor(t *testing.T) {
	gw := &fakeGateway{failFor: map[string]bool{"acct_c-1": true}}
	sink := &fakeSink{err: errors.New("es down")}
	p, mock := newTestProcessor(t, gw, sink)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WillReturnRows(settleableRows().
			AddRow("j-1", int64(10000), "c-1", "acct_c-1").
			AddRow("j-2", int64(9000), "c-2", "acct_c-2").
			AddRow("j-3", int64(9000), "c-3", "").
			AddRow("j-4", int64(9000), "c-3", ""))
	expectSettlement(mock, "c-2", 7470, "j-2")

	report, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err, "a failed group or report sink never fails the run")

	assert.Equal(t, []string{"c-1"}, report.Failed)
	assert.Equal(t, []string{"c-3"}, report.Skipped)
	require.Len(t, report.Paid, 1)
	assert.Equal(t, "c-2", report.Paid[0].ContractorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RowCountMismatchRollsBack(t *testing.T) {
	gw := &fakeGateway{}
	p, mock := newTestProcessor(t, gw, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WillReturnRows(settleableRows().
			AddRow("j-1", int64(10000), "c-1", "acct_c-1").
			AddRow("j-2", int64(10000), "c-1", "acct_c-1"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET payout_status = 'SETTLED'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	report, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, report.Failed)
	assert.Empty(t, report.Paid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SelectionFailureIsReturned(t *testing.T) {
	p, mock := newTestProcessor(t, &fakeGateway{}, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).WillReturnError(errors.New("connection refused"))

	_, err := p.Run(context.Background(), periodStart, periodEnd)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ParallelWorkersCoverEveryGroup(t *testing.T) {
	gw := &fakeGateway{}
	p, mock := newTestProcessor(t, gw, nil)
	p.cfg.Workers = 4
	mock.MatchExpectationsInOrder(false)

	rows := settleableRows()
	for _, c := range []string{"c-1", "c-2", "c-3"} {
		rows.AddRow("j-"+c, int64(10000), c, "acct_"+c)
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).WillReturnRows(rows)

	report, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)

	// Without settlement expectations every group fails after its transfer;
	// what matters here is that each group was attempted exactly once.
	assert.Len(t, gw.requests, 3)
	assert.Equal(t, []string{"c-1", "c-2", "c-3"}, report.Failed)
}

func TestRun_SameDayRunsMoveMoneyForEveryPayout(t *testing.T) {
	gw := &dedupGateway{transfers: map[string]string{}}
	p, mock := newTestProcessor(t, gw, nil)

	morningEnd := periodEnd
	morningStart := morningEnd.AddDate(0, 0, -7)
	afternoonEnd := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	afternoonStart := afternoonEnd.AddDate(0, 0, -7)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WithArgs(morningEnd).
		WillReturnRows(settleableRows().AddRow("j-1", int64(10000), "c-1", "acct_c-1"))
	expectSettlementFor(mock, "c-1", "tr_1", 8300, morningStart, morningEnd, "j-1")

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WithArgs(afternoonEnd).
		WillReturnRows(settleableRows().
			AddRow("j-2", int64(10000), "c-1", "acct_c-1").
			AddRow("j-3", int64(10000), "c-1", "acct_c-1"))
	expectSettlementFor(mock, "c-1", "tr_2", 16600, afternoonStart, afternoonEnd, "j-2", "j-3")

	morning, err := p.Run(context.Background(), morningStart, morningEnd)
	require.NoError(t, err)
	afternoon, err := p.Run(context.Background(), afternoonStart, afternoonEnd)
	require.NoError(t, err)

	require.Len(t, morning.Paid, 1)
	require.Len(t, afternoon.Paid, 1)
	assert.NotEqual(t, morning.Paid[0].IdempotencyKey, afternoon.Paid[0].IdempotencyKey)
	assert.NotEqual(t, morning.Paid[0].TransferID, afternoon.Paid[0].TransferID)
	assert.Equal(t, morning.TotalPaidCents()+afternoon.TotalPaidCents(), gw.moved,
		"every recorded payout must correspond to money moved")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RetryOfUnrecordedTransferReusesKey(t *testing.T) {
	gw := &dedupGateway{transfers: map[string]string{}}
	p, mock := newTestProcessor(t, gw, nil)

	// First attempt: the transfer goes through but recording fails.
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WillReturnRows(settleableRows().AddRow("j-1", int64(10000), "c-1", "acct_c-1"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payouts")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	// Next run sees the same unsettled job and must not pay it twice.
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs j")).
		WillReturnRows(settleableRows().AddRow("j-1", int64(10000), "c-1", "acct_c-1"))
	expectSettlementFor(mock, "c-1", "tr_1", 8300, periodStart, periodEnd, "j-1")

	first, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, first.Failed)

	second, err := p.Run(context.Background(), periodStart, periodEnd)
	require.NoError(t, err)
	require.Len(t, second.Paid, 1)

	assert.Equal(t, int64(8300), gw.moved)
	assert.Equal(t, "tr_1", second.Paid[0].TransferID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
