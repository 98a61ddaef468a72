// Package scan builds the workspace snapshot: a bounded text digest of the
// task database used as grounding context for proactive runs.
package scan

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nudgebot-dev/nudgebot/pkg/notion"
)

const (
	// sectionCap bounds the lines shown per section.
	sectionCap = 5

	// sectionFetch is how many records each section query asks for.
	sectionFetch = 50

	// staleAfter is the edit-age threshold for the stale section.
	staleAfter = 14 * 24 * time.Hour

	snapshotTimeout = 30 * time.Second
)

// Builder assembles snapshots from the task store.
type Builder struct {
	store   notion.Store
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

// NewBuilder returns a snapshot builder for the given store and timezone.
func NewBuilder(store notion.Store, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{store: store, loc: loc, timeout: snapshotTimeout, now: time.Now}
}

// Snapshot runs the five workspace queries concurrently and formats the
// result. On timeout or any query failure it returns the empty string so the
// caller degrades instead of failing.
func (b *Builder) Snapshot(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := b.now().In(b.loc)
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	daysUntilSunday := (7 - int(now.Weekday())) % 7
	endOfWeek := now.AddDate(0, 0, daysUntilSunday).Format("2006-01-02")

	var overdue, dueToday, dueWeek, stale []notion.Record
	var inProgress, todo int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := b.store.Query(gctx, notion.Query{
			OpenOnly:      true,
			DueOnOrBefore: yesterday,
			SortBy:        notion.SortByDue,
			SortAscending: true,
			PageSize:      sectionFetch,
		})
		if err != nil {
			return fmt.Errorf("overdue query: %w", err)
		}
		overdue = page.Records
		return nil
	})
	g.Go(func() error {
		page, err := b.store.Query(gctx, notion.Query{
			OpenOnly:      true,
			DueOnOrAfter:  today,
			DueOnOrBefore: today,
			PageSize:      sectionFetch,
		})
		if err != nil {
			return fmt.Errorf("due-today query: %w", err)
		}
		dueToday = page.Records
		return nil
	})
	g.Go(func() error {
		page, err := b.store.Query(gctx, notion.Query{
			OpenOnly:      true,
			DueOnOrAfter:  tomorrow,
			DueOnOrBefore: endOfWeek,
			SortBy:        notion.SortByDue,
			SortAscending: true,
			PageSize:      sectionFetch,
		})
		if err != nil {
			return fmt.Errorf("due-this-week query: %w", err)
		}
		dueWeek = page.Records
		return nil
	})
	g.Go(func() error {
		page, err := b.store.Query(gctx, notion.Query{
			OpenOnly:         true,
			LastEditedBefore: now.Add(-staleAfter),
			PageSize:         sectionFetch,
		})
		if err != nil {
			return fmt.Errorf("stale query: %w", err)
		}
		stale = page.Records
		return nil
	})
	g.Go(func() error {
		var err error
		inProgress, todo, err = b.countOpen(gctx)
		if err != nil {
			return fmt.Errorf("open-count query: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("[Scan] snapshot degraded to empty: %v", err)
		return ""
	}

	parts := []string{
		"## Current workspace snapshot",
		"(task bodies not included; call get_task_detail when content is needed)",
		"",
		fmt.Sprintf("Active tasks: %d in progress, %d TODO", inProgress, todo),
		"",
		fmt.Sprintf("Overdue (%d):", len(overdue)),
		formatSection(overdue),
		"",
		fmt.Sprintf("Due today (%d):", len(dueToday)),
		formatSection(dueToday),
		"",
		fmt.Sprintf("Rest of this week (%d):", len(dueWeek)),
		formatSection(dueWeek),
		"",
		fmt.Sprintf("Stale, no update for 2+ weeks (%d):", len(stale)),
		formatSection(stale),
	}
	return strings.Join(parts, "\n")
}

// countOpen pages through the open records and tallies the two active
// statuses.
func (b *Builder) countOpen(ctx context.Context) (inProgress, todo int, err error) {
	cursor := ""
	for {
		page, err := b.store.Query(ctx, notion.Query{
			OpenOnly:    true,
			PageSize:    100,
			StartCursor: cursor,
		})
		if err != nil {
			return 0, 0, err
		}
		for _, rec := range page.Records {
			switch rec.Status {
			case notion.StatusInProgress:
				inProgress++
			case notion.StatusTodo:
				todo++
			}
		}
		if !page.HasMore {
			return inProgress, todo, nil
		}
		cursor = page.NextCursor
	}
}

// formatSection renders one capped record list. Every line carries the
// record id so downstream tool calls can target it directly.
func formatSection(records []notion.Record) string {
	if len(records) == 0 {
		return "  (none)"
	}

	shown := records
	if len(shown) > sectionCap {
		shown = shown[:sectionCap]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, rec := range shown {
		due := rec.Due
		if due == "" {
			due = "no date"
		}
		lines = append(lines, fmt.Sprintf("  - %s [%s] (due: %s) [id:%s]", rec.Title, rec.Status, due, rec.ID))
	}
	if extra := len(records) - sectionCap; extra > 0 {
		lines = append(lines, fmt.Sprintf("  ... and %d more", extra))
	}
	return strings.Join(lines, "\n")
}
