/*
audit.go - Consistency auditor: drift detection and deterministic repair

PURPOSE:
  Read-only reconciliation pass over showings and reservations. The
  engine keeps stored remaining capacity consistent on its own paths;
  the auditor is the backstop for everything else: direct manual edits,
  stores without transactions, crashed half-applied writes.

ISSUE CATEGORIES:
  capacity  - stored remaining differs from the recomputed value, or is
              negative in a consistent (overbooked) state
  orphaned  - reservation references a showing that no longer exists
  integrity - duplicate active bookings for one customer and showing

Issue IDs are deterministic ("capacity:<showingID>") so a fix request
can re-locate the issue in a fresh scan.

SEE ALSO:
  - capacity.go: computeRemaining, the definition audited against
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// ISSUES
// =============================================================================

type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

type IssueCategory string

const (
	CategoryCapacity  IssueCategory = "capacity"
	CategoryOrphaned  IssueCategory = "orphaned"
	CategoryIntegrity IssueCategory = "integrity"
)

// Issue is one detected inconsistency.
type Issue struct {
	ID          string
	Severity    IssueSeverity
	Category    IssueCategory
	Description string
	AutoFixable bool

	ShowingID     ShowingID
	ReservationID ReservationID
	Email         string
}

// AuditReport is the result of one scan.
type AuditReport struct {
	RanAt    time.Time
	Issues   []Issue
	Errors   int
	Warnings int
	Fixable  int
}

// FixResult reports one auto-fix attempt: whether the issue is gone
// after re-scanning its category, and what remains in that category.
type FixResult struct {
	IssueID   string
	Fixed     bool
	Remaining []Issue
}

// FixAllResult aggregates AutoFixAll.
type FixAllResult struct {
	Attempted int
	Fixed     int
	Failed    int
	Failures  []string
	After     *AuditReport
}

// =============================================================================
// AUDITOR
// =============================================================================

type Auditor struct {
	Store  TxStore
	Events Publisher
	Clock  func() time.Time
}

func (a *Auditor) now() time.Time { return nowFunc(a.Clock) }

// Run scans every category and returns the combined report.
func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	issues, err := a.scan(ctx, "")
	if err != nil {
		return nil, err
	}
	return a.report(issues), nil
}

func (a *Auditor) report(issues []Issue) *AuditReport {
	rep := &AuditReport{RanAt: a.now(), Issues: issues}
	for _, i := range issues {
		switch i.Severity {
		case SeverityError:
			rep.Errors++
		case SeverityWarning:
			rep.Warnings++
		}
		if i.AutoFixable {
			rep.Fixable++
		}
	}
	return rep
}

// scan detects issues; category narrows the pass ("" means all).
func (a *Auditor) scan(ctx context.Context, category IssueCategory) ([]Issue, error) {
	showings, err := a.Store.ListShowings(ctx)
	if err != nil {
		return nil, err
	}
	reservations, err := a.Store.ListReservations(ctx, ReservationFilter{})
	if err != nil {
		return nil, err
	}

	known := make(map[ShowingID]*Showing, len(showings))
	for i := range showings {
		known[showings[i].ID] = &showings[i]
	}

	consumed := make(map[ShowingID]int)
	active := make(map[string][]ReservationID) // showing|email -> active reservations
	var issues []Issue

	for _, r := range reservations {
		if known[r.ShowingID] == nil {
			if category == "" || category == CategoryOrphaned {
				issues = append(issues, Issue{
					ID:            "orphaned:" + string(r.ID),
					Severity:      SeverityError,
					Category:      CategoryOrphaned,
					Description:   fmt.Sprintf("reservation %s references missing showing %s", r.ID, r.ShowingID),
					AutoFixable:   true,
					ShowingID:     r.ShowingID,
					ReservationID: r.ID,
					Email:         r.Email,
				})
			}
			continue
		}
		if r.Status.CountsAgainstCapacity() {
			consumed[r.ShowingID] += r.PartySize
			key := string(r.ShowingID) + "|" + r.Email
			active[key] = append(active[key], r.ID)
		}
	}

	if category == "" || category == CategoryCapacity {
		for _, sh := range showings {
			computed := sh.Capacity - consumed[sh.ID]
			if sh.Remaining != computed {
				issues = append(issues, Issue{
					ID:       "capacity:" + string(sh.ID),
					Severity: SeverityError,
					Category: CategoryCapacity,
					Description: fmt.Sprintf("showing %s: stored remaining %d, computed %d",
						sh.ID, sh.Remaining, computed),
					AutoFixable: true,
					ShowingID:   sh.ID,
				})
				continue
			}
			if sh.Remaining < 0 {
				desc := fmt.Sprintf("showing %s: remaining capacity is %d (overbooked)", sh.ID, sh.Remaining)
				if o, err := a.Store.GetOverride(ctx, sh.ID); err != nil {
					return nil, err
				} else if o != nil && o.Enabled {
					desc += fmt.Sprintf("; capacity override active (%d, originally %d)",
						o.OverrideCapacity, o.OriginalCapacity)
				}
				issues = append(issues, Issue{
					ID:          "negative:" + string(sh.ID),
					Severity:    SeverityWarning,
					Category:    CategoryCapacity,
					Description: desc,
					ShowingID:   sh.ID,
				})
			}
		}
	}

	if category == "" || category == CategoryIntegrity {
		keys := make([]string, 0, len(active))
		for k, ids := range active {
			if len(ids) > 1 {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 2)
			issues = append(issues, Issue{
				ID:       "duplicate:" + k,
				Severity: SeverityWarning,
				Category: CategoryIntegrity,
				Description: fmt.Sprintf("customer %s has %d active reservations for showing %s; needs manual review",
					parts[1], len(active[k]), parts[0]),
				ShowingID: ShowingID(parts[0]),
				Email:     parts[1],
			})
		}
	}

	return issues, nil
}

// =============================================================================
// AUTO-FIX
// =============================================================================

// AutoFix applies the deterministic correction for one issue and rescans
// its category to confirm resolution.
func (a *Auditor) AutoFix(ctx context.Context, issueID string) (*FixResult, error) {
	issues, err := a.scan(ctx, "")
	if err != nil {
		return nil, err
	}
	var target *Issue
	for i := range issues {
		if issues[i].ID == issueID {
			target = &issues[i]
			break
		}
	}
	if target == nil {
		return nil, &NotFoundError{Kind: "issue", ID: issueID}
	}
	if !target.AutoFixable {
		return nil, fmt.Errorf("issue %s is not auto-fixable", issueID)
	}

	if err := a.applyFix(ctx, target); err != nil {
		return nil, err
	}

	remaining, err := a.scan(ctx, target.Category)
	if err != nil {
		return nil, err
	}
	result := &FixResult{IssueID: issueID, Fixed: true, Remaining: remaining}
	for _, i := range remaining {
		if i.ID == issueID {
			result.Fixed = false
		}
	}
	return result, nil
}

// AutoFixAll applies every fixable issue sequentially and reports the
// combined outcome with a final full scan.
func (a *Auditor) AutoFixAll(ctx context.Context) (*FixAllResult, error) {
	issues, err := a.scan(ctx, "")
	if err != nil {
		return nil, err
	}
	result := &FixAllResult{}
	for i := range issues {
		if !issues[i].AutoFixable {
			continue
		}
		result.Attempted++
		if err := a.applyFix(ctx, &issues[i]); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", issues[i].ID, err))
			continue
		}
		result.Fixed++
	}
	after, err := a.Run(ctx)
	if err != nil {
		return nil, err
	}
	result.After = after
	return result, nil
}

func (a *Auditor) applyFix(ctx context.Context, issue *Issue) error {
	switch issue.Category {
	case CategoryOrphaned:
		return a.Store.DeleteReservation(ctx, issue.ReservationID)

	case CategoryCapacity:
		now := a.now()
		var capacity, remaining int
		err := a.Store.WithTx(ctx, func(s Store) error {
			sh, err := s.GetShowing(ctx, issue.ShowingID)
			if err != nil {
				return err
			}
			if sh == nil {
				return &NotFoundError{Kind: "showing", ID: string(issue.ShowingID)}
			}
			computed, err := computeRemaining(ctx, s, sh)
			if err != nil {
				return err
			}
			return s.UpdateShowing(ctx, sh.ID, func(u *Showing) error {
				u.Remaining = computed
				capacity = u.Capacity
				remaining = computed
				return nil
			})
		})
		if err != nil {
			return err
		}
		publish(ctx, a.Events, CapacityChanged{
			ShowingID: issue.ShowingID, Capacity: capacity, Remaining: remaining, At: now,
		})
		return nil

	default:
		return fmt.Errorf("no fix implemented for category %s", issue.Category)
	}
}
