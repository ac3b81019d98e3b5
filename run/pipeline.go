package run

import (
	"context"

	"sortie/config"
	"sortie/store"
)

// taskOutcome is one input's result after its pipeline finishes. err is
// set only for fatal failures (persistence, cancellation) that must
// unwind the whole run; an isolated task failure sets failed and leaves
// err nil because the error already lives on the task row.
type taskOutcome struct {
	value   any
	skipped bool
	failed  bool
	err     error
}

// processTask drives one input through Data → Ai → Output. Stage errors
// end this task as Err and leave every sibling untouched; persistence
// errors unwind immediately.
func (o *Orchestrator) processTask(ctx context.Context, rc RuntimeCtx, task *store.Task, input any, runOpts Options, beforeAll any) taskOutcome {
	rc = rc.forTask(task)
	opts := runOpts
	effInput := input
	var data any
	var aiContent any
	var aiResponse map[string]any

	if err := persist("step_task_start", o.tracker.StepTaskStart(task.ID)); err != nil {
		return taskOutcome{err: err}
	}
	o.handler.TaskStarted(task.Idx, input)

	// Data stage
	if o.agent.HasData() {
		src := rc.forStage(store.StageData)
		if err := persist("step_task_data_start", o.tracker.StepTaskDataStart(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
		env := o.stageEnv(src, opts)
		env["input"] = effInput
		env["before_all"] = beforeAll
		value, err := o.runScript(ctx, src, o.agent.Data, env)
		if err != nil {
			return o.endTaskErr(task, store.StageData, err)
		}
		o.debug.StageResult(task.Idx, store.StageData, value)

		directive, err := interpretFlow(store.StageData, value)
		if err != nil {
			return o.endTaskErr(task, store.StageData, err)
		}
		switch d := directive.(type) {
		case FlowSkip:
			reason := ""
			if d.Reason != nil {
				reason = *d.Reason
			}
			if err := persist("step_task_end_skip", o.tracker.StepTaskEndSkip(task.ID, task.Idx, reason)); err != nil {
				return taskOutcome{err: err}
			}
			o.handler.TaskSkipped(task.Idx, reason)
			return taskOutcome{skipped: true}
		case FlowDataResponse:
			if d.HasInput {
				effInput = d.Input
			}
			if d.HasData {
				data = d.Data
			}
			if d.Options != nil {
				opts = opts.apply(d.Options)
				if opts.Model != runOpts.Model {
					if err := persist("set_task_model_ov", o.tracker.SetTaskModelOv(task.ID, opts.Model)); err != nil {
						return taskOutcome{err: err}
					}
				}
			}
		case FlowNone:
			data = d.Value
		}
		if err := persist("step_task_data_end", o.tracker.StepTaskDataEnd(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
	}

	// Ai stage
	if o.agent.HasPrompt() {
		if err := persist("step_task_ai_start", o.tracker.StepTaskAiStart(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
		resp, model, err := o.callModel(ctx, task.Idx, opts, promptScope(effInput, data, beforeAll))
		if err != nil {
			return o.endTaskErr(task, store.StageAi, err)
		}
		usage := store.TokenUsage{
			PromptTotal:         resp.Usage.InputTokens,
			PromptCached:        resp.Usage.CachedTokens,
			PromptCacheCreation: resp.Usage.CacheCreationTokens,
			CompletionTotal:     resp.Usage.OutputTokens,
			CompletionReasoning: resp.Usage.ReasoningTokens,
		}
		cost := config.CalculateCost(model.ModelName, usage.PromptTotal, usage.PromptCached, usage.CompletionTotal)
		if err := persist("record_task_usage", o.tracker.RecordTaskUsage(task.ID, usage, cost)); err != nil {
			return taskOutcome{err: err}
		}
		if err := persist("add_run_cost", o.tracker.AddRunCost(rc.RunID, cost)); err != nil {
			return taskOutcome{err: err}
		}
		if err := persist("step_task_ai_end", o.tracker.StepTaskAiEnd(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
		aiContent = resp.Content
		aiResponse = map[string]any{"content": resp.Content, "model": resp.Model}
	}

	// Output stage
	var outValue any
	if o.agent.HasOutput() {
		src := rc.forStage(store.StageOutput)
		if err := persist("step_task_output_start", o.tracker.StepTaskOutputStart(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
		env := o.stageEnv(src, opts)
		env["input"] = effInput
		env["data"] = data
		env["before_all"] = beforeAll
		env["ai_response"] = aiResponse
		value, err := o.runScript(ctx, src, o.agent.Output, env)
		if err != nil {
			return o.endTaskErr(task, store.StageOutput, err)
		}
		o.debug.StageResult(task.Idx, store.StageOutput, value)

		directive, err := interpretFlow(store.StageOutput, value)
		if err != nil {
			return o.endTaskErr(task, store.StageOutput, err)
		}
		outValue = directive.(FlowNone).Value
		if err := persist("step_task_output_end", o.tracker.StepTaskOutputEnd(task.ID)); err != nil {
			return taskOutcome{err: err}
		}
	}

	// Final value: output script result, else the model's reply, else the
	// data value.
	final := outValue
	if !o.agent.HasOutput() {
		if o.agent.HasPrompt() {
			final = aiContent
		} else {
			final = data
		}
	}

	if err := persist("set_task_output", o.tracker.SetTaskOutput(task.ID, toJSON(final))); err != nil {
		return taskOutcome{err: err}
	}
	if err := persist("step_task_end_ok", o.tracker.StepTaskEndOk(task.ID)); err != nil {
		return taskOutcome{err: err}
	}
	o.handler.TaskCompleted(task.Idx, final)
	return taskOutcome{value: final}
}

// endTaskErr records a stage error on the task and ends it as Err.
// First write wins on the tracker side, so a task that already ended
// keeps its original error. The failure stays isolated to this task.
func (o *Orchestrator) endTaskErr(task *store.Task, stage store.Stage, stageErr error) taskOutcome {
	stage = errStage(stageErr, stage)
	if _, perr := o.tracker.StepTaskEndErr(task.ID, stage, stageErr.Error()); perr != nil {
		return taskOutcome{err: persist("step_task_end_err", perr)}
	}
	o.logger.Error("task failed", "idx", task.Idx, "stage", stage, "error", stageErr)
	o.handler.TaskFailed(task.Idx, stageErr)
	return taskOutcome{failed: true}
}
