package run_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sortie/config"
	"sortie/llm"
	"sortie/run"
	"sortie/store"
)

var _ = Describe("TaskPipeline", func() {
	var (
		cfg     *config.Config
		tracker *store.MemoryTracker
		fake    *fakeProvider
		rec     *recordingHandler
		ctx     context.Context
	)

	BeforeEach(func() {
		cfg = testConfig()
		tracker = store.NewMemoryTracker()
		fake = &fakeProvider{}
		rec = newRecordingHandler()
		ctx = context.Background()
	})

	execute := func(agent *config.Agent, inputs []any) (*run.RunResult, error) {
		o := run.New(cfg, agent, tracker,
			run.WithProvider(fake),
			run.WithHandler(rec),
		)
		return o.Execute(ctx, inputs)
	}

	taskFor := func(runID int64, idx int) store.Task {
		tasks, err := tracker.ListTasksForRun(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(tasks)).To(BeNumerically(">", idx))
		return tasks[idx]
	}

	errContentOf := func(task store.Task) string {
		Expect(task.EndErrID).NotTo(BeNil())
		errRec, err := tracker.GetErr(*task.EndErrID)
		Expect(err).NotTo(HaveOccurred())
		return errRec.Content
	}

	Describe("the Ai stage", func() {
		It("renders prompt parts, carries the cache flag, and records usage and cost", func() {
			agent := &config.Agent{
				Name:  "summarizer",
				Model: "default",
				Data:  `{note: "n-" + input}`,
				Prompts: []config.PromptPart{
					{Kind: "system", Options: "cache = true", Content: "You are terse."},
					{Kind: "instruction", Content: "Say {{.input}} with {{json .data}}"},
					{Kind: "assistant", Content: "Understood."},
				},
				Output: `ai_response.content + "!"`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"echo!"}))

			reqs := fake.Requests()
			Expect(reqs).To(HaveLen(1))
			req := reqs[0]
			Expect(req.Model).To(Equal("claude-sonnet-4-5"))
			Expect(req.System).To(HaveLen(1))
			Expect(req.System[0].Text).To(Equal("You are terse."))
			Expect(req.System[0].Cache).To(BeTrue())
			Expect(req.Messages).To(HaveLen(2))
			Expect(req.Messages[0].Role).To(Equal(llm.RoleUser))
			Expect(req.Messages[0].Content).To(Equal(`Say a with {"note":"n-a"}`))
			Expect(req.Messages[1].Role).To(Equal(llm.RoleAssistant))
			Expect(req.Messages[1].Content).To(Equal("Understood."))

			task := taskFor(res.Run.ID, 0)
			Expect(task.Usage.PromptTotal).To(Equal(int64(1000)))
			Expect(task.Usage.CompletionTotal).To(Equal(int64(100)))
			Expect(task.Cost).To(BeNumerically("~", 0.0045, 1e-9))

			runRow, gerr := tracker.GetRun(res.Run.ID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(runRow.TotalCost).To(BeNumerically("~", 0.0045, 1e-9))
			Expect(stepNames(tracker, res.Run.ID)).To(ContainElements("ai_start", "ai_end"))
		})

		It("keeps usage and cost when the output stage fails afterwards", func() {
			agent := &config.Agent{
				Name:    "halfway",
				Model:   "default",
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
				Output:  `boom()`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{nil}))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(task.Usage.PromptTotal).To(Equal(int64(1000)))
			Expect(task.Cost).To(BeNumerically("~", 0.0045, 1e-9))

			runRow, gerr := tracker.GetRun(res.Run.ID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(runRow.TotalCost).To(BeNumerically("~", 0.0045, 1e-9))
		})

		It("applies the agent's option block to the request", func() {
			temp := 0.3
			topP := 0.9
			maxTokens := 512
			agent := &config.Agent{
				Name:    "tuned",
				Model:   "default",
				Options: &config.AgentOptions{Temperature: &temp, TopP: &topP, MaxTokens: &maxTokens},
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
			}
			_, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())

			req := fake.Requests()[0]
			Expect(req.Temperature).To(HaveValue(Equal(0.3)))
			Expect(req.TopP).To(HaveValue(Equal(0.9)))
			Expect(req.MaxTokens).To(Equal(512))
		})

		It("without an output stage the model's reply is the task output", func() {
			agent := &config.Agent{
				Name:    "direct",
				Model:   "default",
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"echo"}))

			task := taskFor(res.Run.ID, 0)
			Expect(task.OutputContent).To(HaveValue(Equal(`"echo"`)))
		})

		It("ends the task Err when the model reference does not resolve", func() {
			agent := &config.Agent{
				Name:    "lost",
				Model:   "ghost",
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{nil}))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(errContentOf(task)).To(ContainSubstring("no model block named 'ghost'"))
		})

		It("surfaces a provider failure as an Ai-stage error on that task only", func() {
			fake.reply = func(call int, req *llm.ChatRequest) (*llm.ChatResponse, error) {
				if req.Messages[0].Content == "b" {
					return nil, fmt.Errorf("rate limited")
				}
				return &llm.ChatResponse{Content: "ok", Usage: llm.Usage{InputTokens: 10, OutputTokens: 1}}, nil
			}
			agent := &config.Agent{
				Name:             "flaky",
				Model:            "default",
				InputConcurrency: 3,
				Prompts:          []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
			}
			res, err := execute(agent, []any{"a", "b", "c"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"ok", nil, "ok"}))

			task := taskFor(res.Run.ID, 1)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(errContentOf(task)).To(ContainSubstring("rate limited"))

			errRec, gerr := tracker.GetErr(*task.EndErrID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(errRec.Stage).To(Equal(store.StageAi))

			runRow, rerr := tracker.GetRun(res.Run.ID)
			Expect(rerr).NotTo(HaveOccurred())
			Expect(runRow.EndState).To(HaveValue(Equal(store.EndStateOk)))
		})
	})

	Describe("skip directives", func() {
		It("skips the matching input and keeps its output slot null", func() {
			agent := &config.Agent{
				Name:             "selective",
				Model:            "default",
				InputConcurrency: 3,
				Data:             `input == "one" ? skip("because") : "out:" + input`,
			}
			res, err := execute(agent, []any{"one", "two", "three"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{nil, "out:two", "out:three"}))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateSkip))
			Expect(task.EndSkipReason).To(HaveValue(Equal("because")))
			Expect(task.OutputContent).To(BeNil())
			Expect(rec.Skipped()).To(HaveKeyWithValue(0, "because"))

			runRow, gerr := tracker.GetRun(res.Run.ID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(runRow.EndState).To(HaveValue(Equal(store.EndStateOk)))
		})

		It("logs the skipped input's index and reason", func() {
			agent := &config.Agent{
				Name:  "logger",
				Model: "default",
				Data:  `input == "c" ? skip("because") : "v:" + input`,
			}
			res, err := execute(agent, []any{"a", "b", "c"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"v:a", "v:b", nil}))

			msgs := stepMessages(tracker, res.Run.ID)
			Expect(msgs).To(ContainElement(ContainSubstring("input index: 2")))
			Expect(msgs).To(ContainElement(ContainSubstring("because")))
		})

		It("allows a reasonless skip", func() {
			agent := &config.Agent{
				Name:  "quiet",
				Model: "default",
				Data:  `skip()`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{nil}))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateSkip))
			Expect(task.EndSkipReason).To(HaveValue(Equal("")))
			Expect(rec.Skipped()).To(HaveKeyWithValue(0, ""))
		})
	})

	Describe("data response directives", func() {
		It("substitutes input, data, and options for the rest of this task only", func() {
			agent := &config.Agent{
				Name:  "patcher",
				Model: "default",
				Data: `input == "a" ? data_response({
					input: "patched:" + input,
					data: {note: "n1"},
					options: {model: "alt", temperature: 0.9}
				}) : input`,
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "I:{{.input}} D:{{json .data}}"}},
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"echo"}))

			req := fake.Requests()[0]
			Expect(req.Model).To(Equal("gpt-4o"))
			Expect(req.Temperature).To(HaveValue(Equal(0.9)))
			Expect(req.Messages[0].Content).To(Equal(`I:patched:a D:{"note":"n1"}`))

			task := taskFor(res.Run.ID, 0)
			Expect(task.ModelOv).To(HaveValue(Equal("alt")))
			Expect(task.Cost).To(BeNumerically("~", 0.0035, 1e-9))
		})

		It("does not leak overrides into sibling tasks", func() {
			agent := &config.Agent{
				Name:  "tight",
				Model: "default",
				Data: `input == "a" ? data_response({options: {model: "alt"}}) : input`,
				Prompts: []config.PromptPart{{Kind: "instruction", Content: "{{.input}}"}},
			}
			res, err := execute(agent, []any{"a", "b"})
			Expect(err).NotTo(HaveOccurred())

			tasks, terr := tracker.ListTasksForRun(res.Run.ID)
			Expect(terr).NotTo(HaveOccurred())
			Expect(tasks[0].ModelOv).To(HaveValue(Equal("alt")))
			Expect(tasks[1].ModelOv).To(BeNil())

			models := []string{}
			for _, req := range fake.Requests() {
				models = append(models, req.Model)
			}
			Expect(models).To(ConsistOf("gpt-4o", "claude-sonnet-4-5"))
		})
	})

	Describe("flow envelope errors", func() {
		It("passes an unknown envelope kind through as a plain value", func() {
			agent := &config.Agent{
				Name:  "exotic",
				Model: "default",
				Data:  `{_envelope_: {kind: "Exotic"}, x: 1}`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs[0]).To(HaveKeyWithValue("x", 1))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateOk))
		})

		It("passes a non-map envelope value through as a plain value", func() {
			agent := &config.Agent{
				Name:  "flat",
				Model: "default",
				Data:  `{_envelope_: "not a map"}`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs[0]).To(HaveKeyWithValue("_envelope_", "not a map"))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateOk))
		})

		It("passes an envelope without a kind through as a plain value", func() {
			agent := &config.Agent{
				Name:  "kindless",
				Model: "default",
				Data:  `{_envelope_: {data: {reason: "r"}}}`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs[0]).To(HaveKey("_envelope_"))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateOk))
		})

		It("fails the task on a recognized kind with a malformed payload", func() {
			agent := &config.Agent{
				Name:  "garbled",
				Model: "default",
				Data:  `{_envelope_: {kind: "Skip", data: {reason: 42}}}`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{nil}))

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(errContentOf(task)).To(ContainSubstring("reason is not a string"))
		})

		It("rejects a run-scoped directive at the data stage", func() {
			agent := &config.Agent{
				Name:  "overreach",
				Model: "default",
				Data:  `before_all_response({inputs: ["q"]})`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(errContentOf(task)).To(ContainSubstring("not valid at this stage"))
		})

		It("rejects any directive at the output stage", func() {
			agent := &config.Agent{
				Name:   "lateskip",
				Model:  "default",
				Data:   `input`,
				Output: `skip("too late")`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())

			task := taskFor(res.Run.ID, 0)
			Expect(endState(task)).To(Equal(store.EndStateErr))
			Expect(errContentOf(task)).To(ContainSubstring("not valid at this stage"))

			errRec, gerr := tracker.GetErr(*task.EndErrID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(errRec.Stage).To(Equal(store.StageOutput))

			runRow, rerr := tracker.GetRun(res.Run.ID)
			Expect(rerr).NotTo(HaveOccurred())
			Expect(runRow.EndState).To(HaveValue(Equal(store.EndStateOk)))
		})
	})

	Describe("task isolation", func() {
		It("lets siblings finish when one task's script throws", func() {
			agent := &config.Agent{
				Name:             "brittle",
				Model:            "default",
				InputConcurrency: 3,
				Data:             `input == "b" ? no_such_fn() : "ok:" + input`,
			}
			res, err := execute(agent, []any{"a", "b", "c"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outputs).To(Equal([]any{"ok:a", nil, "ok:c"}))

			tasks, terr := tracker.ListTasksForRun(res.Run.ID)
			Expect(terr).NotTo(HaveOccurred())
			Expect(endState(tasks[0])).To(Equal(store.EndStateOk))
			Expect(endState(tasks[1])).To(Equal(store.EndStateErr))
			Expect(endState(tasks[2])).To(Equal(store.EndStateOk))

			errRec, gerr := tracker.GetErr(*tasks[1].EndErrID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(errRec.Stage).To(Equal(store.StageData))

			Expect(rec.Failed()).To(HaveKey(1))
			runRow, rerr := tracker.GetRun(res.Run.ID)
			Expect(rerr).NotTo(HaveOccurred())
			Expect(runRow.EndState).To(HaveValue(Equal(store.EndStateOk)))
		})
	})

	Describe("pins", func() {
		It("upserts a task-scoped pin from the data script", func() {
			agent := &config.Agent{
				Name:  "annotator",
				Model: "default",
				Data:  `pin("note", 2, "p:" + input)`,
			}
			res, err := execute(agent, []any{"a"})
			Expect(err).NotTo(HaveOccurred())
			// pin returns its iden, which becomes the data value.
			Expect(res.Outputs).To(Equal([]any{"note"}))

			pins, perr := tracker.ListPinsForRun(res.Run.ID)
			Expect(perr).NotTo(HaveOccurred())
			Expect(pins).To(HaveLen(1))
			Expect(pins[0].Iden).To(Equal("note"))
			Expect(pins[0].TaskID).NotTo(BeNil())
			Expect(pins[0].Priority).To(Equal(2.0))
			Expect(pins[0].Content).To(Equal("p:a"))
			Expect(rec.Pins()).To(HaveLen(1))
		})
	})
})
