// Package aggregate folds fetched deal and task records into per-owner
// metric accumulators. The engine is pure: no I/O, no concurrency, and the
// only clock input is the injected "today" used for overdue classification.
package aggregate

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/gcsops/crm-pipeline/pkg/crm"
)

// Bucket is the mutually exclusive classification of one task.
type Bucket int

const (
	// BucketCompleted holds tasks whose completion flag is set.
	BucketCompleted Bucket = iota

	// BucketOverdue holds open tasks whose due date is before today.
	BucketOverdue

	// BucketOpenFutureDue holds open tasks due today or later.
	BucketOpenFutureDue

	// BucketOpenNoDue holds open tasks without a due date.
	BucketOpenNoDue
)

// Accumulator is the per-owner metric set. Total always equals the sum of
// the four buckets: each task increments exactly one bucket and the total
// exactly once.
type Accumulator struct {
	Owner         string `json:"owner"`
	OwnerID       string `json:"owner_id"`
	Total         int    `json:"total"`
	Completed     int    `json:"completed"`
	Overdue       int    `json:"overdue"`
	OpenFutureDue int    `json:"open_future_due"`
	OpenNoDue     int    `json:"open_no_due"`
}

// add classifies one task into the accumulator.
func (a *Accumulator) add(bucket Bucket) {
	a.Total++
	switch bucket {
	case BucketCompleted:
		a.Completed++
	case BucketOverdue:
		a.Overdue++
	case BucketOpenFutureDue:
		a.OpenFutureDue++
	case BucketOpenNoDue:
		a.OpenNoDue++
	}
}

// Classify places one task in exactly one bucket. The due date comparison is
// calendar-date only; time of day never enters it.
func Classify(t crm.Task, today crm.Date) Bucket {
	switch {
	case bool(t.Completed):
		return BucketCompleted
	case !t.HasDueDate():
		return BucketOpenNoDue
	case t.DueDate.Time.Before(today.Time):
		return BucketOverdue
	default:
		return BucketOpenFutureDue
	}
}

// Options holds owner-exclusion configuration. Exclusion is checked both by
// owner id and by substring match on the display name; the two mechanisms
// are kept independent and a disagreement between them is flagged in the log.
type Options struct {
	// ExcludedOwnerIDs drops owners by identifier (synthetic operator accounts).
	ExcludedOwnerIDs []string

	// ExcludedNameSubstrings drops owners whose display name contains any of
	// these substrings (case-insensitive).
	ExcludedNameSubstrings []string
}

// Build produces one accumulator per distinct owner that has at least one
// deal, classifying every task of every deal, then returns the accumulators
// sorted by display name (locale-aware, ascending) with excluded owners
// dropped.
func Build(deals []crm.Deal, tasksByDeal map[string][]crm.Task, directory map[string]string, today crm.Date, opts Options) []Accumulator {
	accs := make(map[string]*Accumulator)

	for _, deal := range deals {
		acc, ok := accs[deal.OwnerID]
		if !ok {
			acc = &Accumulator{
				Owner:   resolveOwner(deal.OwnerID, directory),
				OwnerID: deal.OwnerID,
			}
			accs[deal.OwnerID] = acc
		}

		for _, task := range tasksByDeal[deal.ID] {
			acc.add(Classify(task, today))
		}
	}

	out := make([]Accumulator, 0, len(accs))
	for _, acc := range accs {
		if excluded(acc, opts) {
			continue
		}
		out = append(out, *acc)
	}

	sortByOwner(out)
	return out
}

// resolveOwner maps an owner id to its normalized display name.
func resolveOwner(ownerID string, directory map[string]string) string {
	name := TruncatePipe(directory[ownerID])
	if name == "" {
		name = FallbackName(ownerID)
	}
	return name
}

// excluded applies both exclusion mechanisms and warns when they disagree.
func excluded(acc *Accumulator, opts Options) bool {
	byID := false
	for _, id := range opts.ExcludedOwnerIDs {
		if acc.OwnerID == id {
			byID = true
			break
		}
	}

	byName := false
	lower := strings.ToLower(acc.Owner)
	for _, sub := range opts.ExcludedNameSubstrings {
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			byName = true
			break
		}
	}

	if byID != byName && (len(opts.ExcludedOwnerIDs) > 0 && len(opts.ExcludedNameSubstrings) > 0) {
		log.Warn().
			Str("owner_id", acc.OwnerID).
			Str("owner", acc.Owner).
			Bool("excluded_by_id", byID).
			Bool("excluded_by_name", byName).
			Msg("Owner exclusion checks disagree")
	}

	return byID || byName
}

// sortByOwner orders accumulators by display name ascending using a
// locale-aware collator, with owner id as a deterministic tie-breaker.
func sortByOwner(accs []Accumulator) {
	coll := collate.New(language.Und)
	sort.SliceStable(accs, func(i, j int) bool {
		if cmp := coll.CompareString(accs[i].Owner, accs[j].Owner); cmp != 0 {
			return cmp < 0
		}
		return accs[i].OwnerID < accs[j].OwnerID
	})
}
