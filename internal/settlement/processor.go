// Package settlement turns completed, unsettled jobs into weekly contractor payouts.
package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"cleaner-dispatch/internal/common/database"
	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/common/metrics"
	"cleaner-dispatch/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Transferer issues money movements; GatewayClient is the production implementation.
type Transferer interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
}

// ReportSink stores finished batch reports.
type ReportSink interface {
	Index(ctx context.Context, report *Report) error
}

type Config struct {
	PlatformFeePct     float64
	InsuranceFeePct    float64
	MinimumPayoutCents int64
	Currency           string
	Workers            int
}

// Report is the outcome of one batch run. Skipped and Failed hold contractor IDs.
type Report struct {
	RunID       string          `json:"runId"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	Paid        []models.Payout `json:"paid"`
	Skipped     []string        `json:"skipped"`
	Failed      []string        `json:"failed"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// TotalPaidCents sums every payout in the report.
func (r *Report) TotalPaidCents() int64 {
	var total int64
	for _, p := range r.Paid {
		total += p.AmountCents
	}
	return total
}

type Processor struct {
	db       *sql.DB
	gateway  Transferer
	reporter ReportSink
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

// NewProcessor returns a Processor. reporter may be nil.
func NewProcessor(db *sql.DB, gateway Transferer, reporter ReportSink, cfg Config, log logger.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Processor{
		db:       db,
		gateway:  gateway,
		reporter: reporter,
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type jobLine struct {
	JobID      string
	PriceCents int64
	NetCents   int64
}

type group struct {
	ContractorID string
	Account      string
	Jobs         []jobLine
	TotalCents   int64
}

func (g *group) jobIDs() []string {
	ids := make([]string, len(g.Jobs))
	for i, j := range g.Jobs {
		ids[i] = j.JobID
	}
	return ids
}

const selectSettleable = `
	SELECT j.id, j.total_price_cents, a.contractor_id, c.payout_account_id
	FROM jobs j
	JOIN assignments a ON a.job_id = j.id AND a.status = 'ACCEPTED'
	JOIN contractors c ON c.id = a.contractor_id
	WHERE j.status = 'COMPLETED'
	  AND j.payout_status = 'UNSETTLED'
	  AND j.completed_at < $1
	ORDER BY a.contractor_id, j.id
`

var tracer = otel.Tracer("cleaner-dispatch/settlement")

// Run settles every eligible job completed before periodEnd. Per-contractor
// failures are reported, never returned; only a failed selection is an error.
func (p *Processor) Run(ctx context.Context, periodStart, periodEnd time.Time) (*Report, error) {
	ctx, span := tracer.Start(ctx, "settlement.run")
	defer span.End()

	report := &Report{
		RunID:       uuid.NewString(),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Paid:        []models.Payout{},
		Skipped:     []string{},
		Failed:      []string{},
		StartedAt:   p.now(),
	}
	log := p.logger.WithFields(map[string]interface{}{
		"runId":       report.RunID,
		"periodStart": periodStart,
		"periodEnd":   periodEnd,
	})

	groups, unpayable, err := p.selectGroups(ctx, periodEnd)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, cid := range unpayable {
		cfgErr := apperrors.NewConfigurationError("contractor " + cid + " has no payout account")
		log.Error("skipping contractor without payout account", map[string]interface{}{
			"contractorId": cid,
			"errorCode":    string(cfgErr.Code),
			"error":        cfgErr,
		})
		report.Skipped = append(report.Skipped, cid)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Workers)

	for _, grp := range groups {
		if grp.TotalCents < p.cfg.MinimumPayoutCents {
			log.Info("payout below minimum, deferring", map[string]interface{}{
				"contractorId": grp.ContractorID,
				"amountCents":  grp.TotalCents,
				"minimumCents": p.cfg.MinimumPayoutCents,
			})
			report.Skipped = append(report.Skipped, grp.ContractorID)
			continue
		}

		g.Go(func() error {
			payout, err := p.settleGroup(ctx, grp, periodStart, periodEnd)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("payout failed", map[string]interface{}{
					"contractorId": grp.ContractorID,
					"amountCents":  grp.TotalCents,
					"jobs":         len(grp.Jobs),
					"error":        err,
				})
				report.Failed = append(report.Failed, grp.ContractorID)
				return nil
			}
			report.Paid = append(report.Paid, *payout)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Paid, func(i, j int) bool { return report.Paid[i].ContractorID < report.Paid[j].ContractorID })
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)
	report.FinishedAt = p.now()

	p.record(ctx, report)
	span.SetAttributes(
		attribute.Int("payouts.paid", len(report.Paid)),
		attribute.Int("payouts.skipped", len(report.Skipped)),
		attribute.Int("payouts.failed", len(report.Failed)),
	)
	log.Info("payout batch finished", map[string]interface{}{
		"paid":       len(report.Paid),
		"skipped":    len(report.Skipped),
		"failed":     len(report.Failed),
		"totalCents": report.TotalPaidCents(),
	})
	return report, nil
}

// selectGroups returns payable groups ordered by contractor and the IDs of
// contractors that have earnings but no payout account.
func (p *Processor) selectGroups(ctx context.Context, periodEnd time.Time) ([]*group, []string, error) {
	rows, err := p.db.QueryContext(ctx, selectSettleable, periodEnd)
	if err != nil {
		return nil, nil, apperrors.NewDatabaseError("select settleable jobs", err)
	}
	defer rows.Close()

	var (
		groups    []*group
		unpayable []string
		byID      = map[string]*group{}
		seenBad   = map[string]bool{}
	)
	for rows.Next() {
		var (
			line                  jobLine
			contractorID, account string
		)
		if err := rows.Scan(&line.JobID, &line.PriceCents, &contractorID, &account); err != nil {
			return nil, nil, apperrors.NewDatabaseError("scan settleable job", err)
		}

		if account == "" {
			if !seenBad[contractorID] {
				seenBad[contractorID] = true
				unpayable = append(unpayable, contractorID)
			}
			continue
		}

		line.NetCents = NetCents(line.PriceCents, p.cfg.PlatformFeePct, p.cfg.InsuranceFeePct)
		grp, ok := byID[contractorID]
		if !ok {
			grp = &group{ContractorID: contractorID, Account: account}
			byID[contractorID] = grp
			groups = append(groups, grp)
		}
		grp.Jobs = append(grp.Jobs, line)
		grp.TotalCents += line.NetCents
	}
	if err := rows.Err(); err != nil {
		return nil, nil, apperrors.NewDatabaseError("iterate settleable jobs", err)
	}
	return groups, unpayable, nil
}

// settleGroup transfers the group's total and then records the payout and
// settles its jobs in one transaction.
func (p *Processor) settleGroup(ctx context.Context, grp *group, periodStart, periodEnd time.Time) (*models.Payout, error) {
	key := IdempotencyKey(grp.ContractorID, grp.jobIDs())
	transferID, err := p.gateway.CreateTransfer(ctx, TransferRequest{
		Destination:    grp.Account,
		AmountCents:    grp.TotalCents,
		Currency:       p.cfg.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}

	payout := &models.Payout{
		ID:             uuid.NewString(),
		ContractorID:   grp.ContractorID,
		AmountCents:    grp.TotalCents,
		Currency:       p.cfg.Currency,
		Status:         models.PayoutStatusPaid,
		TransferID:     transferID,
		IdempotencyKey: key,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		JobIDs:         grp.jobIDs(),
		CreatedAt:      p.now(),
	}

	err = database.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (id, contractor_id, amount_cents, currency, status, transfer_id, idempotency_key, period_start, period_end, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			payout.ID, payout.ContractorID, payout.AmountCents, payout.Currency, payout.Status,
			payout.TransferID, payout.IdempotencyKey, payout.PeriodStart, payout.PeriodEnd, payout.CreatedAt,
		); err != nil {
			return apperrors.NewDatabaseError("insert payout", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET payout_status = 'SETTLED', payout_id = $1, updated_at = $3
			WHERE id = ANY($2) AND payout_status = 'UNSETTLED'`,
			payout.ID, pq.Array(payout.JobIDs), payout.CreatedAt)
		if err != nil {
			return apperrors.NewDatabaseError("settle jobs", err)
		}
		if n, _ := res.RowsAffected(); n != int64(len(payout.JobIDs)) {
			return apperrors.NewConflictError("jobs changed during settlement",
				fmt.Sprintf("expected %d rows, settled %d", len(payout.JobIDs), n))
		}
		return nil
	})
	if err != nil {
		p.logger.Error("transfer succeeded but settlement was not recorded", map[string]interface{}{
			"contractorId":   grp.ContractorID,
			"transferId":     transferID,
			"idempotencyKey": key,
			"error":          err,
		})
		return nil, err
	}
	return payout, nil
}

func (p *Processor) record(ctx context.Context, report *Report) {
	metrics.PayoutGroups.WithLabelValues("paid").Add(float64(len(report.Paid)))
	metrics.PayoutGroups.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	metrics.PayoutGroups.WithLabelValues("failed").Add(float64(len(report.Failed)))
	metrics.PayoutAmountCents.Add(float64(report.TotalPaidCents()))
	metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if p.reporter == nil {
		return
	}
	if err := p.reporter.Index(ctx, report); err != nil {
		p.logger.Warn("failed to index payout report", map[string]interface{}{
			"runId": report.RunID,
			"error": err,
		})
	}
}
