package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"

	"sortie/config"
	"sortie/llm"
	"sortie/script"
	"sortie/store"
	"sortie/streamers"
)

// Orchestrator drives one agent over a batch of inputs: BeforeAll, a
// bounded fan-out of per-input task pipelines, AfterAll, with every
// transition persisted through the tracker.
type Orchestrator struct {
	cfg     *config.Config
	agent   *config.Agent
	tracker store.Tracker
	handler streamers.RunHandler
	logger  hclog.Logger
	host    script.Host

	parentRun     *store.Run
	label         string
	debugDir      string
	modelOverride string
	concurrencyOv int

	// provider, when set, serves every model call and bypasses the factory.
	provider llm.Provider

	debug *debugLog

	mu        sync.Mutex
	providers map[string]llm.Provider
	closers   []io.Closer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithHandler sets the run event handler
func WithHandler(h streamers.RunHandler) Option {
	return func(o *Orchestrator) {
		o.handler = h
	}
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithScriptHost sets the stage script host
func WithScriptHost(h script.Host) Option {
	return func(o *Orchestrator) {
		o.host = h
	}
}

// WithProvider pins every model call to one provider
func WithProvider(p llm.Provider) Option {
	return func(o *Orchestrator) {
		o.provider = p
	}
}

// WithParentRun records the run that spawned this one
func WithParentRun(r *store.Run) Option {
	return func(o *Orchestrator) {
		o.parentRun = r
	}
}

// WithLabel overrides the agent's label
func WithLabel(label string) Option {
	return func(o *Orchestrator) {
		o.label = label
	}
}

// WithDebugDir enables debug capture under dir
func WithDebugDir(dir string) Option {
	return func(o *Orchestrator) {
		o.debugDir = dir
	}
}

// WithModel overrides the agent's model reference
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.modelOverride = model
	}
}

// WithConcurrency overrides the agent's input concurrency
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrencyOv = n
	}
}

// New creates an orchestrator for one agent. The zero configuration
// runs silently: no-op handler, null logger, bundled expr script host.
func New(cfg *config.Config, agent *config.Agent, tracker store.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		agent:     agent,
		tracker:   tracker,
		handler:   streamers.Noop{},
		logger:    hclog.NewNullLogger(),
		host:      script.NewExprHost(),
		providers: make(map[string]llm.Provider),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunResult is a finished run and its per-input outputs, ordered by
// input index. Skipped and failed inputs hold nil.
type RunResult struct {
	Run     *store.Run
	Outputs []any
}

// Execute runs the agent over inputs. A nil input list runs one task
// over a nil input. The returned error is the run-scope cause; per-task
// failures do not surface here, they live on their task rows.
func (o *Orchestrator) Execute(ctx context.Context, inputs []any) (*RunResult, error) {
	debug, err := newDebugLog(o.debugDir)
	if err != nil {
		return nil, err
	}
	o.debug = debug
	defer debug.Close()
	defer o.closeProviders()

	if inputs == nil {
		inputs = []any{nil}
	}

	opts := optionsFromAgent(o.agent)
	if o.modelOverride != "" {
		opts.Model = o.modelOverride
	}
	concurrency := o.agent.Concurrency()
	if o.concurrencyOv > 0 {
		concurrency = o.concurrencyOv
	}
	label := o.agent.Label
	if o.label != "" {
		label = o.label
	}

	nr := store.NewRun{
		AgentName:   o.agent.Name,
		Model:       opts.Model,
		Label:       label,
		Concurrency: concurrency,
	}
	if o.parentRun != nil {
		uid := o.parentRun.UID
		nr.ParentUID = &uid
	}
	run, err := o.tracker.CreateRun(nr)
	if err != nil {
		return nil, persist("create_run", err)
	}
	rc := RuntimeCtx{RunID: run.ID, RunUID: run.UID, Stage: store.StageRun}

	if err := persist("step_run_start", o.tracker.StepRunStart(run.ID)); err != nil {
		return nil, err
	}
	o.handler.RunStarted(run, len(inputs))
	o.debug.Event("run_started", map[string]any{
		"run_uid": run.UID,
		"agent":   o.agent.Name,
		"inputs":  len(inputs),
	})
	o.logger.Info("run started", "uid", run.UID, "agent", o.agent.Name, "inputs", len(inputs), "concurrency", concurrency)

	// BeforeAll
	var beforeAll any
	if o.agent.HasBeforeAll() {
		src := rc.forStage(store.StageBeforeAll)
		if err := persist("step_run_ba_start", o.tracker.StepRunBAStart(run.ID)); err != nil {
			return nil, err
		}
		o.handler.BeforeAllStarted()

		env := o.stageEnv(src, opts)
		env["inputs"] = inputs
		value, err := o.runScript(ctx, src, o.agent.BeforeAll, env)
		if err != nil {
			return nil, o.failRun(run, store.StageBeforeAll, err)
		}
		o.debug.StageResult(-1, store.StageBeforeAll, value)

		directive, err := interpretFlow(store.StageBeforeAll, value)
		if err != nil {
			return nil, o.failRun(run, store.StageBeforeAll, err)
		}
		switch d := directive.(type) {
		case FlowBeforeAllResponse:
			if d.HasInputs {
				inputs = d.Inputs
			}
			if d.Options != nil {
				opts = opts.apply(d.Options)
				if opts.Model != run.Model {
					if err := persist("set_run_model", o.tracker.SetRunModel(run.ID, opts.Model)); err != nil {
						return nil, err
					}
				}
			}
			if d.HasBeforeAll {
				beforeAll = d.BeforeAll
			}
		case FlowNone:
			beforeAll = d.Value
		}

		if err := persist("step_run_ba_end", o.tracker.StepRunBAEnd(run.ID)); err != nil {
			return nil, err
		}
		o.handler.BeforeAllCompleted()
	}

	// Tasks: rows first, then the fan-out, so a later bulk cancel can
	// reach tasks that never got a worker.
	if err := persist("step_run_tasks_start", o.tracker.StepRunTasksStart(run.ID)); err != nil {
		return nil, err
	}
	o.handler.TasksStarted(len(inputs), concurrency)

	tasks := make([]*store.Task, len(inputs))
	for i, input := range inputs {
		content := toJSON(input)
		task, err := o.tracker.CreateTask(store.NewTask{RunID: run.ID, Idx: i, InputContent: &content})
		if err != nil {
			return nil, persist("create_task", err)
		}
		tasks[i] = task
	}

	runOpts := opts
	outcomes := forEachInput(ctx, len(inputs), concurrency, func(ctx context.Context, idx int) taskOutcome {
		return o.processTask(ctx, rc, tasks[idx], inputs[idx], runOpts, beforeAll)
	})

	for _, oc := range outcomes {
		if oc.err != nil {
			return nil, o.failRun(run, store.StageRun, oc.err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, o.failRun(run, store.StageRun, err)
	}
	if err := persist("step_run_tasks_end", o.tracker.StepRunTasksEnd(run.ID)); err != nil {
		return nil, err
	}

	outputs := make([]any, len(outcomes))
	for i, oc := range outcomes {
		outputs[i] = oc.value
	}

	// AfterAll
	if o.agent.HasAfterAll() {
		src := rc.forStage(store.StageAfterAll)
		if err := persist("step_run_aa_start", o.tracker.StepRunAAStart(run.ID)); err != nil {
			return nil, err
		}
		o.handler.AfterAllStarted()

		env := o.stageEnv(src, opts)
		env["inputs"] = inputs
		env["outputs"] = outputs
		env["before_all"] = beforeAll
		// Only an error matters here; the return value is not interpreted.
		if _, err := o.runScript(ctx, src, o.agent.AfterAll, env); err != nil {
			return nil, o.failRun(run, store.StageAfterAll, err)
		}

		if err := persist("step_run_aa_end", o.tracker.StepRunAAEnd(run.ID)); err != nil {
			return nil, err
		}
		o.handler.AfterAllCompleted()
	}

	if err := persist("step_run_end_ok", o.tracker.StepRunEndOk(run.ID)); err != nil {
		return nil, err
	}
	run, err = o.tracker.GetRun(run.ID)
	if err != nil {
		return nil, persist("get_run", err)
	}
	o.handler.RunCompleted(run, outputs)
	o.debug.Event("run_completed", map[string]any{"run_uid": run.UID, "cost": run.TotalCost})
	o.logger.Info("run completed", "uid", run.UID, "cost", run.TotalCost)
	return &RunResult{Run: run, Outputs: outputs}, nil
}

// failRun ends the run as Err and bulk-cancels every task that has no
// end state yet. A persistence cause skips all of that: the store is
// already unreliable, so nothing records an error about the error.
func (o *Orchestrator) failRun(run *store.Run, stage store.Stage, cause error) error {
	var perr *PersistenceError
	if errors.As(cause, &perr) {
		o.handler.RunFailed(run, stage, cause)
		return cause
	}

	stage = errStage(cause, stage)
	o.logger.Error("run failed", "uid", run.UID, "stage", stage, "error", cause)
	if _, err := o.tracker.StepRunEndErr(run.ID, stage, cause.Error()); err != nil {
		o.handler.RunFailed(run, stage, cause)
		return persist("step_run_end_err", err)
	}
	n, err := o.tracker.CancelAllNotEndedForRun(run.ID)
	if err != nil {
		o.handler.RunFailed(run, stage, cause)
		return persist("cancel_all_not_ended_for_run", err)
	}
	if n > 0 {
		o.logger.Info("cancelled unfinished tasks", "count", n)
	}
	o.handler.RunFailed(run, stage, cause)
	return cause
}

// callModel resolves the effective model, builds the prompt, and calls
// the provider. Resolution and provider failures come back as
// ModelCallError; a prompt template failure is a script failure.
func (o *Orchestrator) callModel(ctx context.Context, idx int, opts Options, scope map[string]any) (*llm.ChatResponse, *config.Model, error) {
	model := o.cfg.FindModel(opts.Model)
	if model == nil {
		return nil, nil, &ModelCallError{Model: opts.Model, Err: fmt.Errorf("no model block named '%s'", opts.Model)}
	}
	provider, err := o.providerFor(ctx, model)
	if err != nil {
		return nil, nil, &ModelCallError{Model: opts.Model, Err: err}
	}
	req, err := buildChatRequest(o.agent, opts, model.ModelName, scope)
	if err != nil {
		return nil, nil, &ScriptError{Stage: store.StageAi, Err: err}
	}

	o.logger.Debug("model call", "idx", idx, "model", model.ModelName, "provider", provider.Name())
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, nil, &ModelCallError{Model: model.ModelName, Err: err}
	}
	o.debug.Chat(idx, req, resp)
	return resp, model, nil
}

// providerFor returns the cached provider for a model block, building
// it on first use. Providers that own a connection get closed when the
// run finishes.
func (o *Orchestrator) providerFor(ctx context.Context, m *config.Model) (llm.Provider, error) {
	if o.provider != nil {
		return o.provider, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.providers[m.Name]; ok {
		return p, nil
	}
	p, ownsClose, err := llm.NewProvider(ctx, m)
	if err != nil {
		return nil, err
	}
	o.providers[m.Name] = p
	if ownsClose {
		if c, ok := p.(io.Closer); ok {
			o.closers = append(o.closers, c)
		}
	}
	return p, nil
}

func (o *Orchestrator) closeProviders() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.closers {
		c.Close()
	}
	o.closers = nil
	o.providers = make(map[string]llm.Provider)
}

// stageEnv seeds a script env with the helpers, the run view, the
// options view, and the pin binding for this scope.
func (o *Orchestrator) stageEnv(rc RuntimeCtx, opts Options) script.Env {
	env := rc.baseEnv()
	env["options"] = opts.envView()
	env["pin"] = o.pinFunc(rc)
	return env
}

func (o *Orchestrator) runScript(ctx context.Context, rc RuntimeCtx, source string, env script.Env) (any, error) {
	value, err := o.host.Run(ctx, source, env)
	if err != nil {
		return nil, &ScriptError{Stage: rc.Stage, Err: err}
	}
	return value, nil
}

// pinFunc binds the pin(iden, priority, content) helper to one scope.
// Pins are annotations, not step state, so an upsert failure logs and
// the script keeps going.
func (o *Orchestrator) pinFunc(rc RuntimeCtx) func(string, float64, string) string {
	return func(iden string, priority float64, content string) string {
		np := store.NewPin{RunID: rc.RunID, Iden: iden, Priority: priority, Content: content}
		if rc.TaskID != 0 {
			tid := rc.TaskID
			np.TaskID = &tid
		}
		if err := o.tracker.UpsertPin(np); err != nil {
			o.logger.Warn("pin upsert failed", "iden", iden, "error", err)
			return iden
		}
		o.handler.PinUpserted(np)
		return iden
	}
}

// toJSON renders a script value as canonical JSON for storage. Values
// that cannot marshal fall back to their string form.
func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(v))
	}
	return string(b)
}
