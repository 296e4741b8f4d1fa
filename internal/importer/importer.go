// Package importer runs one IATI import against a stored activity. A run
// loads the activity, merges each selected field group in a fixed order,
// then finalizes the scalar patch and audit entry in one transaction.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/markers"
	"github.com/lherron/iatisync/internal/merge"
	"github.com/lherron/iatisync/internal/metrics"
	"github.com/lherron/iatisync/internal/orgs"
	"github.com/lherron/iatisync/internal/relations"
	"github.com/lherron/iatisync/internal/store"
)

const tracerName = "github.com/lherron/iatisync/internal/importer"

// State is the run state
type State string

const (
	StateLoaded     State = "loaded"
	StateMerging    State = "merging"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Importer runs imports. One Importer is shared by every caller in a
// process so that runs against the same activity are serialized.
type Importer struct {
	store      *store.Store
	log        *logrus.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	converter  currency.Converter
	supported  []string
	now        func() time.Time
	actor      string
	production bool

	locks *keyedMutex
}

// Option configures an Importer
type Option func(*Importer)

// WithLogger sets the logger used when ctx carries no entry
func WithLogger(log *logrus.Logger) Option {
	return func(i *Importer) { i.log = log }
}

// WithTracerProvider sets the provider spans are created on
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Importer) { i.tracer = tp.Tracer(tracerName) }
}

// WithMetrics sets the run collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

// WithConverter replaces the per-run rate converter
func WithConverter(c currency.Converter) Option {
	return func(i *Importer) { i.converter = c }
}

// WithSupportedCurrencies limits the currencies converted to USD
func WithSupportedCurrencies(codes []string) Option {
	return func(i *Importer) { i.supported = codes }
}

// WithClock sets the clock used for sync times
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// WithActor sets the actor recorded when a request carries none
func WithActor(actor string) Option {
	return func(i *Importer) { i.actor = actor }
}

// WithProduction drops stack traces from unexpected failure details
func WithProduction(production bool) Option {
	return func(i *Importer) { i.production = production }
}

// New creates an Importer over s
func New(s *store.Store, opts ...Option) *Importer {
	i := &Importer{
		store:  s,
		log:    logrus.StandardLogger(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		actor:  "system",
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// run is the mutable state of one import
type run struct {
	id       string
	req      *iati.Request
	activity *domain.Activity
	state    State
	log      *logrus.Entry
	started  time.Time

	env *merge.Env

	reportingOrgUUID string
	outcomes         []*merge.Outcome
	warnings         []domain.Warning
	fieldsUpdated    []string
	failedGroups     []string

	columns  []string
	values   []interface{}
	previous map[string]interface{}
	updated  map[string]interface{}
}

func (r *run) transition(s State) {
	r.log.WithFields(logrus.Fields{"from": r.state, "to": s}).Debug("import state")
	r.state = s
}

// Import runs req. A returned error is fatal and is a *domain.Error; any
// other problem is reported as a warning on the response.
func (i *Importer) Import(ctx context.Context, req *iati.Request) (resp *Response, err error) {
	started := i.now()
	if err := iati.ValidateRequest(req); err != nil {
		return nil, domain.WrapError(domain.CodeInvalidRequest, "invalid import request", err)
	}

	ctx, span := i.tracer.Start(ctx, "import.run", trace.WithAttributes(
		attribute.String("activity.id", req.ActivityID),
		attribute.StringSlice("import.fields", req.Fields.Requested()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		started: started,
	}
	r.log = i.entry(ctx).WithFields(logrus.Fields{
		"activity_id": req.ActivityID,
		"run_id":      r.id,
	})
	ctx = logging.WithEntry(ctx, r.log)

	unlock, err := i.locks.Lock(ctx, req.ActivityID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeUnexpected, "import cancelled waiting for activity lock", err)
	}
	defer unlock()

	activity, err := i.store.Activities.Get(ctx, req.ActivityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Info("import target not found")
			return nil, domain.NewError(domain.CodeNotFound,
				"activity "+req.ActivityID+" not found",
				map[string]interface{}{"activityId": req.ActivityID})
		}
		return nil, i.unexpected(r, errors.Wrap(err, "failed to load activity"))
	}
	r.activity = activity
	r.transition(StateLoaded)

	for _, name := range req.Fields.Unknown() {
		r.warnings = append(r.warnings, domain.Warning{
			Type:    domain.CodeUnknownField,
			Message: "unknown field " + name + " ignored",
			Details: map[string]interface{}{"field": name},
		})
	}

	r.env = i.newEnv(ctx, r)

	r.transition(StateMerging)
	i.resolveReportingOrg(ctx, r)
	for _, g := range groupOrder {
		if !req.Fields.Has(string(g)) {
			continue
		}
		out := i.mergeGroup(ctx, r.env, g, &req.IATIData)
		i.collect(r, out)
	}
	i.scalarPatch(r)

	r.transition(StateFinalizing)
	resp, err = i.finalize(ctx, r)
	if err != nil {
		r.transition(StateFailed)
		return nil, err
	}
	r.transition(StateDone)

	if r.activity.IATIIdentifier != nil {
		n, err := r.env.Linker.ResolvePending(ctx, *r.activity.IATIIdentifier, r.activity.ID)
		if err != nil {
			r.log.WithError(err).Warn("failed to resolve pending relationships")
		} else if n > 0 {
			r.log.WithField("resolved", n).Info("pending relationships resolved")
		}
	}

	span.SetAttributes(
		attribute.String("import.sync_status", resp.Summary.SyncStatus),
		attribute.Int("import.warnings", len(resp.Warnings)),
	)
	return resp, nil
}

func (i *Importer) entry(ctx context.Context) *logrus.Entry {
	if e, ok := logging.Lookup(ctx); ok {
		return e
	}
	return logrus.NewEntry(i.log)
}

func (i *Importer) newEnv(ctx context.Context, r *run) *merge.Env {
	actor := r.req.Actor
	if actor == "" {
		actor = i.actor
	}

	converter := i.converter
	if converter == nil {
		opts := []currency.Option{currency.WithClock(i.now)}
		if len(i.supported) > 0 {
			opts = append(opts, currency.WithSupported(i.supported))
		}
		converter = currency.NewRateConverter(i.store.ExchangeRates, opts...)
	}

	env := &merge.Env{
		ActivityID: r.activity.ID,
		Activity:   r.activity,
		Store:      i.store,
		Orgs:       orgs.NewResolver(i.store.Organizations, actor, r.req.AcronymOverrides, r.log),
		Markers:    markers.NewResolver(i.store.PolicyMarkers),
		Linker:     relations.NewLinker(i.store.Activities, i.store.Relationships),
		Converter:  converter,
		Log:        r.log,
	}

	if id := r.activity.ReportingOrgUUID; id != nil && *id != "" {
		org, err := i.store.Organizations.Get(ctx, *id)
		switch {
		case err != nil:
			r.log.WithError(err).Warn("failed to load reporting organization")
		case org.DefaultCurrency != nil:
			env.OrgCurrency = *org.DefaultCurrency
		}
	}
	return env
}

// resolveReportingOrg links the payload's reporting organization. It runs
// with participating organizations since both write organization links.
func (i *Importer) resolveReportingOrg(ctx context.Context, r *run) {
	ref := r.req.IATIData.ReportingOrg
	if !r.req.Fields.Has(string(iati.GroupParticipatingOrgs)) || ref.Empty() {
		return
	}

	res, err := r.env.Orgs.ResolveOrCreate(ctx, orgs.Ref{Ref: ref.Ref, Name: ref.Name, Type: ref.Type})
	if err != nil {
		if e, ok := domain.AsError(err); ok {
			r.warnings = append(r.warnings, e.Warning())
		} else {
			r.warnings = append(r.warnings, domain.WrapError(domain.CodeOrganizationResolution,
				"reporting organization not resolved", err).Warning())
		}
		return
	}
	r.warnings = append(r.warnings, res.Warnings...)

	current := ""
	if r.activity.ReportingOrgUUID != nil {
		current = *r.activity.ReportingOrgUUID
	}
	if res.OrganizationID != current {
		r.reportingOrgUUID = res.OrganizationID
		r.previous = setValue(r.previous, "reporting_org_uuid", r.activity.ReportingOrgUUID)
		r.updated = setValue(r.updated, "reporting_org_uuid", res.OrganizationID)
	}
	if res.Organization != nil && res.Organization.DefaultCurrency != nil {
		r.env.OrgCurrency = *res.Organization.DefaultCurrency
	}
}

// mergeGroup runs one merger in its own span. A panic becomes a group
// write failure.
func (i *Importer) mergeGroup(ctx context.Context, env *merge.Env, g iati.Group, p *iati.Payload) (out *merge.Outcome) {
	ctx, span := i.tracer.Start(ctx, "import.group", trace.WithAttributes(
		attribute.String("import.group", string(g)),
	))
	defer span.End()

	groupEnv := *env
	groupEnv.Log = env.Log.WithField("group", string(g))

	defer func() {
		if rec := recover(); rec != nil {
			cause := errors.Errorf("panic: %v", rec)
			groupEnv.Log.WithField("stack", fmt.Sprintf("%+v", cause)).Error("group merge panicked")
			out = &merge.Outcome{
				Group: g,
				Err:   domain.WrapError(domain.CodeGroupWriteFailure, fmt.Sprintf("failed to write %s", g), cause),
			}
		}
		span.SetAttributes(
			attribute.Bool("import.updated", out.Updated),
			attribute.Int("import.added", out.Added),
			attribute.Int("import.skipped", out.Skipped),
		)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
	}()

	m, ok := merge.For(g)
	if !ok {
		return &merge.Outcome{
			Group: g,
			Err:   domain.NewError(domain.CodeGroupWriteFailure, "no merger for "+string(g), nil),
		}
	}
	return m(ctx, &groupEnv, p)
}

func (i *Importer) collect(r *run, out *merge.Outcome) {
	r.outcomes = append(r.outcomes, out)
	r.warnings = append(r.warnings, out.Warnings...)

	entry := r.log.WithFields(logrus.Fields{
		"group":   string(out.Group),
		"added":   out.Added,
		"changed": out.Changed,
		"skipped": out.Skipped,
	})
	if out.Err != nil {
		r.failedGroups = append(r.failedGroups, string(out.Group))
		if e, ok := domain.AsError(out.Err); ok {
			r.warnings = append(r.warnings, e.Warning())
		} else {
			r.warnings = append(r.warnings, domain.WrapError(domain.CodeGroupWriteFailure,
				"failed to write "+string(out.Group), out.Err).Warning())
		}
		entry.WithError(out.Err).Warn("group not written")
		return
	}
	if out.Updated {
		r.fieldsUpdated = append(r.fieldsUpdated, string(out.Group))
	}
	entry.Debug("group merged")
}

// scalarPatch collects the selected scalar columns the payload carries
func (i *Importer) scalarPatch(r *run) {
	before := r.activity.Scalars()
	for _, f := range iati.ScalarFields {
		if !r.req.Fields.Has(f.Name) {
			continue
		}
		v, ok := f.Value(&r.req.IATIData)
		if !ok {
			continue
		}
		r.columns = append(r.columns, f.Column)
		r.values = append(r.values, v)
		r.fieldsUpdated = append(r.fieldsUpdated, f.Name)

		r.previous = setValue(r.previous, f.Column, before[f.Column])
		if jsonColumns[f.Column] {
			r.updated = setValue(r.updated, f.Column, decodeJSON(v))
		} else {
			r.updated = setValue(r.updated, f.Column, v)
		}
	}
}

func (i *Importer) finalize(ctx context.Context, r *run) (*Response, error) {
	ctx, span := i.tracer.Start(ctx, "import.finalize")
	defer span.End()

	syncTime := i.now().UTC().Format(time.RFC3339)
	status := domain.ImportStatusSuccess
	if len(r.failedGroups) > 0 {
		status = domain.ImportStatusPartial
	}

	entry, err := i.logEntry(r, status)
	if err != nil {
		return nil, i.unexpected(r, err)
	}

	err = i.store.ImportLogs.Finalize(ctx, store.FinalizeParams{
		ActivityID: r.activity.ID,
		Actor:      i.runActor(r),
		Columns:    r.columns,
		Values:     r.values,
		Sync: store.SyncMetadata{
			SyncTime:         syncTime,
			SyncStatus:       string(status),
			ReportingOrgUUID: r.reportingOrgUUID,
		},
		Entry: entry,
	})
	if err != nil {
		span.RecordError(err)
		failure := &domain.ImportLog{
			ActivityID:      r.activity.ID,
			FileName:        r.req.Source,
			FieldsRequested: r.req.Fields.Requested(),
			FieldsUpdated:   []string{},
			Warnings:        r.warnings,
			TotalRows:       entry.TotalRows,
			SuccessfulRows:  entry.SuccessfulRows,
			FailedRows:      entry.FailedRows,
			Actor:           entry.Actor,
		}
		if ferr := i.store.ImportLogs.InsertFailure(ctx, i.runActor(r), failure, err); ferr != nil {
			r.log.WithError(ferr).Error("failed to record import failure")
		}
		return nil, i.unexpected(r, errors.Wrap(err, "failed to finalize import"))
	}

	resp := i.respond(r, entry, syncTime, status)
	i.observe(r, resp)
	r.log.WithFields(logrus.Fields{
		"import_log": entry.ID,
		"status":     status,
		"updated":    len(resp.FieldsUpdated),
		"warnings":   len(resp.Warnings),
	}).Info("import finalized")
	return resp, nil
}

func (i *Importer) runActor(r *run) string {
	if r.req.Actor != "" {
		return r.req.Actor
	}
	return i.actor
}

func (i *Importer) logEntry(r *run, status domain.ImportStatus) (*domain.ImportLog, error) {
	previous, err := json.Marshal(orEmpty(r.previous))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode previous values")
	}
	updated, err := json.Marshal(orEmpty(r.updated))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode updated values")
	}
	rollback, err := rollbackPatch(updated, previous)
	if err != nil {
		return nil, err
	}

	total, failed := 0, 0
	for _, out := range r.outcomes {
		total += out.Total
		failed += out.Skipped
	}

	actor := i.runActor(r)
	fieldsUpdated := r.fieldsUpdated
	if fieldsUpdated == nil {
		fieldsUpdated = []string{}
	}
	return &domain.ImportLog{
		ActivityID:      r.activity.ID,
		FileName:        r.req.Source,
		Status:          status,
		FieldsRequested: r.req.Fields.Requested(),
		FieldsUpdated:   fieldsUpdated,
		PreviousValues:  string(previous),
		UpdatedValues:   string(updated),
		RollbackPatch:   rollback,
		Warnings:        r.warnings,
		TotalRows:       total,
		SuccessfulRows:  total - failed,
		FailedRows:      failed,
		Actor:           &actor,
	}, nil
}

// rollbackPatch is the JSON Patch that turns the updated values back into
// the previous ones.
func rollbackPatch(updated, previous []byte) (string, error) {
	patch, err := jsondiff.CompareJSON(updated, previous)
	if err != nil {
		return "", errors.Wrap(err, "failed to diff import values")
	}
	if len(patch) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode rollback patch")
	}
	return string(data), nil
}

func (i *Importer) respond(r *run, entry *domain.ImportLog, syncTime string, status domain.ImportStatus) *Response {
	stats := r.env.Orgs.Stats()
	sum := Summary{
		FieldsRequested:      len(entry.FieldsRequested),
		FieldsUpdated:        len(entry.FieldsUpdated),
		OrganizationsCreated: stats.Created,
		OrganizationsLinked:  stats.Linked,
		LastSyncTime:         syncTime,
		SyncStatus:           string(status),
		HasWarnings:          len(r.warnings) > 0,
	}
	for _, out := range r.outcomes {
		if out.Err != nil {
			continue
		}
		switch out.Group {
		case iati.GroupSectors:
			sum.SectorsUpdated = out.Added
		case iati.GroupParticipatingOrgs:
			sum.OrganizationsUpdated = out.Added + out.Changed
		case iati.GroupTransactions:
			sum.TransactionsAdded = out.Added
		case iati.GroupPlannedDisbursements:
			sum.PlannedDisbursementsAdded = out.Added
		case iati.GroupPolicyMarkers:
			sum.PolicyMarkersAdded = out.Added
		case iati.GroupBudgets:
			sum.BudgetsAdded = out.Added
		case iati.GroupRelatedActivities:
			sum.RelatedActivitiesLinked = out.Added
		}
	}

	return &Response{
		ActivityID:    r.activity.ID,
		FieldsUpdated: entry.FieldsUpdated,
		Warnings:      r.warnings,
		ImportLogID:   entry.ID,
		Summary:       sum,
	}
}

func (i *Importer) observe(r *run, resp *Response) {
	types := make([]string, 0, len(resp.Warnings))
	for _, w := range resp.Warnings {
		types = append(types, string(w.Type))
	}
	total, failed := 0, 0
	for _, out := range r.outcomes {
		total += out.Total
		failed += out.Skipped
	}
	i.metrics.ObserveRun(metrics.RunObservation{
		Status:               resp.Summary.SyncStatus,
		Duration:             i.now().Sub(r.started),
		FailedGroups:         r.failedGroups,
		WarningTypes:         types,
		OrganizationsCreated: resp.Summary.OrganizationsCreated,
		SuccessfulRows:       total - failed,
		FailedRows:           failed,
	})
}

// unexpected wraps err as a fatal failure. Outside production the details
// carry the stack.
func (i *Importer) unexpected(r *run, err error) error {
	r.state = StateFailed
	r.log.WithError(err).Error("import failed")
	i.metrics.ObserveRun(metrics.RunObservation{
		Status:       string(domain.ImportStatusFailed),
		Duration:     i.now().Sub(r.started),
		FailedGroups: r.failedGroups,
	})

	e := domain.WrapError(domain.CodeUnexpected, "import failed", err)
	if !i.production {
		e.Details = map[string]interface{}{"stack": fmt.Sprintf("%+v", errors.WithStack(err))}
	}
	return e
}

func setValue(m map[string]interface{}, key string, v interface{}) map[string]interface{} {
	if m == nil {
		m = map[string]interface{}{}
	}
	m[key] = v
	return m
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

var jsonColumns = map[string]bool{
	"recipient_countries": true,
	"recipient_regions":   true,
	"custom_geographies":  true,
}

// decodeJSON turns a JSON-encoded column value back into structure so the
// logged values match what Activity.Scalars reports.
func decodeJSON(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var out interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return v
	}
	return out
}
