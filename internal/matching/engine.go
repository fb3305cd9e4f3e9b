package matching

import (
	"context"
	"sort"

	apperrors "cleaner-dispatch/internal/common/errors"
	"cleaner-dispatch/internal/common/logger"
	"cleaner-dispatch/internal/models"
)

const (
	weightRating     = 0.4
	weightProximity  = 0.2
	weightAcceptance = 0.2
	weightCompletion = 0.2

	maxRating         = 5.0
	defaultRating     = 2.5
	defaultRateNoData = 1.0

	DefaultNormalizationRadiusKm = 50.0
)

// Candidate is one ranked contractor for a job.
type Candidate struct {
	ContractorID string  `json:"contractorId"`
	Score        float64 `json:"score"`
	DistanceKm   float64 `json:"distanceKm"`
}

// Engine is stateless apart from its repository and is safe for concurrent use.
type Engine struct {
	repo         Repository
	normRadiusKm float64
	logger       logger.Logger
}

func NewEngine(repo Repository, normalizationRadiusKm float64, log logger.Logger) *Engine {
	if normalizationRadiusKm <= 0 {
		normalizationRadiusKm = DefaultNormalizationRadiusKm
	}
	return &Engine{repo: repo, normRadiusKm: normalizationRadiusKm, logger: log}
}

// Rank returns every eligible contractor for jobID ordered by score
// descending, ties broken by contractor ID ascending.
func (e *Engine) Rank(ctx context.Context, jobID string) ([]Candidate, error) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Location == nil {
		return nil, apperrors.NewValidationError("job " + jobID + " has no resolved location")
	}
	if job.ScheduledAt.IsZero() {
		return nil, apperrors.NewValidationError("job " + jobID + " has no scheduled date")
	}

	contractors, err := e.repo.ListEligibleContractors(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(contractors))
	for _, c := range contractors {
		if c.Status != models.ContractorActive || !c.AccountActive {
			continue
		}
		if !IsAvailable(c.Windows, job.ScheduledAt) {
			continue
		}
		if c.Location == nil {
			e.logger.Warn("contractor has no coordinates, skipping", map[string]interface{}{
				"jobId":        jobID,
				"contractorId": c.ID,
			})
			continue
		}

		d := DistanceKm(*job.Location, *c.Location)
		if d > c.ServiceRadiusKm {
			continue
		}

		candidates = append(candidates, Candidate{
			ContractorID: c.ID,
			Score:        e.Score(c, d),
			DistanceKm:   d,
		})
	}

	sortCandidates(candidates)

	e.logger.Debug("ranked contractors", map[string]interface{}{
		"jobId":      jobID,
		"considered": len(contractors),
		"eligible":   len(candidates),
	})
	return candidates, nil
}

// Score combines rating, proximity and track record into [0,1].
func (e *Engine) Score(p models.ContractorProfile, distanceKm float64) float64 {
	rating := defaultRating
	if p.Rating != nil {
		rating = *p.Rating
	}

	acceptance := defaultRateNoData
	if p.AcceptanceRate != nil && p.OfferedCount > 0 {
		acceptance = *p.AcceptanceRate
	}

	completion := defaultRateNoData
	if p.CompletionRate != nil && p.AcceptedCount > 0 {
		completion = *p.CompletionRate
	}

	return weightRating*clamp01(rating/maxRating) +
		weightProximity*ProximityScore(distanceKm, e.normRadiusKm) +
		weightAcceptance*clamp01(acceptance) +
		weightCompletion*clamp01(completion)
}

// TopN returns at most n leading candidates.
func TopN(candidates []Candidate, n int) []Candidate {
	if n < 0 || n >= len(candidates) {
		return candidates
	}
	return candidates[:n]
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].ContractorID < c[j].ContractorID
	})
}
