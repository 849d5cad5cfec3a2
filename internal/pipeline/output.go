package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/sources"
	"github.com/smukkama/demand-monitor/internal/table"
)

// Output file names
const (
	CountrySeriesFile    = "country_time_series.csv"
	MarketSeriesFile     = "market_time_series.csv"
	CountryScorecardFile = "country_scorecard.csv"
	MarketScorecardFile  = "market_scorecard.csv"
	MatrixFile           = "restriction_matrix.csv"
	ChangeLogFile        = "restriction_changes.csv"
	RegulationsFile      = "travel_regulations.csv"
	AirportsFile         = "airport_restrictions.csv"
	WorkbookFile         = "scorecards.xlsx"
)

// write saves every table the run produced under the output directory.
// Scorecards get human-readable column names.
func (r *Runner) write(res *Result) error {
	if r.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var country, marketCard *table.Table
	if res.CountryScorecard != nil {
		country = scorecard.Humanize(res.CountryScorecard)
	}
	if res.MarketScorecard != nil {
		marketCard = scorecard.Humanize(res.MarketScorecard)
	}
	var events *table.Table
	if res.Events != nil {
		events = restrictions.EventsTable(res.Events)
	}

	for _, out := range []struct {
		name string
		t    *table.Table
	}{
		{CountrySeriesFile, res.Countries},
		{MarketSeriesFile, res.Markets},
		{CountryScorecardFile, country},
		{MarketScorecardFile, marketCard},
		{MatrixFile, res.Matrix},
		{ChangeLogFile, events},
		{RegulationsFile, res.Regulations},
		{AirportsFile, res.Airports},
	} {
		if out.t == nil {
			continue
		}
		path := filepath.Join(r.cfg.OutputDir, out.name)
		if err := sources.WriteCSVFile(path, out.t); err != nil {
			return fmt.Errorf("failed to write %s: %w", out.name, err)
		}
		res.Outputs = append(res.Outputs, path)
	}

	var sheets []sources.Sheet
	if country != nil {
		sheets = append(sheets, sources.Sheet{Name: "Country scorecard", Table: country})
	}
	if marketCard != nil {
		sheets = append(sheets, sources.Sheet{Name: "Market scorecard", Table: marketCard})
	}
	if len(sheets) > 0 {
		path := filepath.Join(r.cfg.OutputDir, WorkbookFile)
		if err := sources.WriteExcel(path, sheets); err != nil {
			return fmt.Errorf("failed to write %s: %w", WorkbookFile, err)
		}
		res.Outputs = append(res.Outputs, path)
	}
	return nil
}

// persist stores the scorecards, change events and snapshot of the run,
// then publishes the digests. Publishing failures are warnings.
func (r *Runner) persist(ctx context.Context, res *Result) error {
	st := r.opts.Store
	if res.CountryScorecard != nil {
		entries := scorecard.Entries(res.CountryScorecard, CountryKeys, res.countryColumns)
		if err := st.SaveScorecard(ctx, res.RunID, CountryScorecardName, entries); err != nil {
			return fmt.Errorf("failed to save country scorecard: %w", err)
		}
		res.Counts["country_entries"] = len(entries)
	}
	if res.MarketScorecard != nil {
		entries := scorecard.Entries(res.MarketScorecard, MarketKeys, res.marketColumns)
		if err := st.SaveScorecard(ctx, res.RunID, MarketScorecardName, entries); err != nil {
			return fmt.Errorf("failed to save market scorecard: %w", err)
		}
		res.Counts["market_entries"] = len(entries)
	}
	if len(res.Events) > 0 {
		if err := st.SaveChangeEvents(ctx, res.RunID, res.Events); err != nil {
			return fmt.Errorf("failed to save change events: %w", err)
		}
	}
	if res.snapshot != nil {
		if err := st.SaveSnapshot(ctx, res.snapshot); err != nil {
			return fmt.Errorf("failed to save restriction snapshot: %w", err)
		}
	}

	if r.opts.Publisher == nil || len(res.Digests) == 0 {
		return nil
	}
	n, err := r.opts.Publisher.PublishDigests(ctx, res.Digests)
	if err != nil {
		res.warn("Change digests not published", err.Error())
		return nil
	}
	res.Counts["digests_published"] = n
	fmt.Printf("Published %d change digest(s)\n", n)
	return nil
}
