// Package pipeline runs the demand monitor end to end: it loads the inputs,
// builds the country and market series, compares them in scorecards,
// diffs the restriction matrix, then persists and publishes the results.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/demand-monitor/internal/changepoint"
	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/internal/restrictions"
	"github.com/smukkama/demand-monitor/internal/scorecard"
	"github.com/smukkama/demand-monitor/internal/store"
	"github.com/smukkama/demand-monitor/internal/table"
	"github.com/smukkama/demand-monitor/internal/temporal"
	"github.com/smukkama/demand-monitor/pkg/config"
)

// Commands
const (
	CommandRun          = "run"
	CommandRestrictions = "restrictions"
)

// Publisher sends run results downstream
type Publisher interface {
	PublishDigests(ctx context.Context, digests []*protocol.ChangeDigest) (int, error)
	PublishSummary(ctx context.Context, summary *protocol.RunSummary) error
}

// Options holds the collaborators of a Runner. Nil fields fall back to a
// NopStore, no publishing, no cache, the built-in detector and the labels
// file named in the configuration.
type Options struct {
	Store        store.Store
	Publisher    Publisher
	Cache        *geo.Cache
	CacheVersion string
	Detector     changepoint.Detector
	Labels       *restrictions.Labels
	// NewID returns run ids; defaults to random UUIDs.
	NewID func() string
	// Now stamps run start and end; defaults to time.Now.
	Now func() time.Time
}

// Runner executes pipeline commands for one configuration
type Runner struct {
	cfg            config.PipelineConfig
	opts           Options
	preCrisis      temporal.DateRange
	changeLogStart time.Time
}

// New validates the configuration and fills in default collaborators
func New(cfg config.PipelineConfig, opts Options) (*Runner, error) {
	preCrisis, err := temporal.ParseRange(cfg.PreCrisisStart, cfg.PreCrisisEnd)
	if err != nil {
		return nil, fmt.Errorf("pre-crisis range: %w", err)
	}
	start, err := time.Parse(table.DateLayout, cfg.ChangeLogStart)
	if err != nil {
		return nil, fmt.Errorf("change log start: %w", err)
	}
	if opts.Store == nil {
		opts.Store = &store.NopStore{}
	}
	if opts.Detector == nil {
		opts.Detector = changepoint.BinarySegmentation{}
	}
	if opts.Labels == nil {
		if cfg.LabelsPath != "" {
			opts.Labels, err = restrictions.LoadLabels(cfg.LabelsPath)
		} else {
			opts.Labels, err = restrictions.ParseLabels(nil)
		}
		if err != nil {
			return nil, err
		}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{cfg: cfg, opts: opts, preCrisis: preCrisis, changeLogStart: start}, nil
}

// Result is what one command produced. Tables for stages that did not run
// are nil.
type Result struct {
	RunID     string
	Command   string
	Reference time.Time

	Countries        *table.Table
	Markets          *table.Table
	CountryScorecard *table.Table
	MarketScorecard  *table.Table
	CountryWindows   scorecard.Windows
	MarketWindows    scorecard.Windows

	Matrix      *table.Table
	Regulations *table.Table
	Airports    *table.Table
	Events      []restrictions.ChangeEvent
	Borders     []protocol.BorderChange
	Digests     []*protocol.ChangeDigest

	snapshot       *restrictions.Snapshot
	countryColumns []string
	marketColumns  []string

	Outputs  []string
	Counts   map[string]int
	Warnings []string
}

// warn records msg on the result and prints it with its detail
func (res *Result) warn(msg, detail string) {
	fmt.Printf("Warning: %s: %s (run %s)\n", msg, detail, res.RunID)
	res.Warnings = append(res.Warnings, msg)
}

// Run executes the full pipeline for the given reference time
func (r *Runner) Run(ctx context.Context, reference time.Time) (*Result, error) {
	return r.execute(ctx, CommandRun, reference, r.run)
}

// Restrictions only diffs the restriction matrix and rebuilds the change log
func (r *Runner) Restrictions(ctx context.Context, reference time.Time) (*Result, error) {
	return r.execute(ctx, CommandRestrictions, reference, r.restrictions)
}

func (r *Runner) execute(ctx context.Context, command string, reference time.Time, stage func(context.Context, *Result) error) (*Result, error) {
	res := &Result{
		RunID:     r.opts.NewID(),
		Command:   command,
		Reference: day(reference),
		Counts:    make(map[string]int),
	}
	run := store.Run{
		ID:            res.RunID,
		Command:       command,
		ReferenceTime: reference,
		StartedAt:     r.opts.Now(),
		Status:        store.RunStarted,
	}
	fmt.Printf("Run %s started (%s, reference %s)\n", res.RunID, command, res.Reference.Format(table.DateLayout))
	if err := r.opts.Store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	stageErr := stage(ctx, res)

	run.FinishedAt = r.opts.Now()
	run.Status = store.RunSucceeded
	if stageErr != nil {
		run.Status = store.RunFailed
		res.Warnings = append(res.Warnings, stageErr.Error())
	}
	summary := res.summary(run)
	var err error
	if run.Summary, err = json.Marshal(summary); err != nil {
		return res, errors.Join(stageErr, fmt.Errorf("failed to encode run summary: %w", err))
	}
	errs := []error{stageErr}
	if err := r.opts.Store.SaveRun(ctx, run); err != nil {
		errs = append(errs, fmt.Errorf("failed to record run: %w", err))
	}
	if r.opts.Publisher != nil {
		if pubErr := r.opts.Publisher.PublishSummary(ctx, summary); pubErr != nil {
			fmt.Printf("Note: run summary not published: %v\n", pubErr)
		}
	}

	fmt.Printf("Run %s finished: %s in %s, %d output(s)\n", res.RunID, run.Status,
		run.FinishedAt.Sub(run.StartedAt), len(res.Outputs))
	return res, errors.Join(errs...)
}

func (res *Result) summary(run store.Run) *protocol.RunSummary {
	return &protocol.RunSummary{
		Type:          protocol.MsgTypeRunSummary,
		RunID:         run.ID,
		Command:       run.Command,
		ReferenceTime: run.ReferenceTime,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Status:        run.Status,
		Counts:        res.Counts,
		Outputs:       res.Outputs,
		Warnings:      res.Warnings,
	}
}

func (r *Runner) run(ctx context.Context, res *Result) error {
	m, err := r.mapping(ctx)
	if err != nil {
		return err
	}
	in, err := r.load(ctx, m, res)
	if err != nil {
		return err
	}

	if res.Countries, err = r.countrySeries(ctx, in, m, res); err != nil {
		return err
	}
	if res.Markets, err = r.marketSeries(ctx, in, res); err != nil {
		return err
	}
	if err := r.restrictionStage(ctx, m, in.government, res); err != nil {
		return err
	}
	if err := r.scorecards(ctx, res); err != nil {
		return err
	}
	if err := r.write(res); err != nil {
		return err
	}
	return r.persist(ctx, res)
}

func (r *Runner) restrictions(ctx context.Context, res *Result) error {
	m, err := r.mapping(ctx)
	if err != nil {
		return err
	}
	var government *table.Table
	if r.cfg.GovernmentResponsePath != "" {
		if government, err = r.government().Load(r.cfg.GovernmentResponsePath, m, r.opts.Labels); err != nil {
			return err
		}
	}
	if err := r.restrictionStage(ctx, m, government, res); err != nil {
		return err
	}
	if err := r.write(res); err != nil {
		return err
	}
	return r.persist(ctx, res)
}

// day truncates t to its UTC calendar day
func day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
