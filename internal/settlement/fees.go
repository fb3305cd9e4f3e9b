package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// NetCents is the contractor's share of a job price after platform and
// insurance fees, rounded half away from zero to whole cents.
func NetCents(priceCents int64, platformFeePct, insuranceFeePct float64) int64 {
	return int64(math.Round(float64(priceCents) * (1 - platformFeePct - insuranceFeePct)))
}

// IdempotencyKey identifies one transfer by the contractor and the exact set
// of jobs it pays for. A retry over the same unsettled jobs reuses the key;
// any other job set gets a different one, whatever the period bounds.
func IdempotencyKey(contractorID string, jobIDs []string) string {
	ids := append([]string(nil), jobIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(contractorID + "|" + strings.Join(ids, ",")))
	return fmt.Sprintf("payout-%s-%s", contractorID, hex.EncodeToString(sum[:16]))
}
