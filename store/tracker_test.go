package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sortie/store"
)

var _ = Describe("Tracker", func() {
	runTrackerTests := func(newTracker func() (store.Tracker, func())) {
		var (
			tracker store.Tracker
			cleanup func()
		)

		BeforeEach(func() {
			tracker, cleanup = newTracker()
		})

		AfterEach(func() {
			cleanup()
		})

		It("creates runs with defaults and retrieves them by id and uid", func() {
			run, err := tracker.CreateRun(store.NewRun{
				AgentName: "summarize",
				AgentPath: "agents/summarize.hcl",
				Model:     "claude-sonnet-4-5",
				Label:     "nightly",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.ID).To(BeNumerically(">", 0))
			Expect(run.UID).NotTo(BeEmpty())
			Expect(run.Concurrency).To(Equal(1), "concurrency below 1 clamps to 1")

			got, err := tracker.GetRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UID).To(Equal(run.UID))
			Expect(got.AgentName).To(Equal("summarize"))
			Expect(got.Model).To(Equal("claude-sonnet-4-5"))
			Expect(got.Label).To(Equal("nightly"))
			Expect(got.EndState).To(BeNil())
			Expect(got.Start).To(BeNil())

			byUID, err := tracker.GetRunByUID(run.UID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byUID.ID).To(Equal(run.ID))
		})

		It("records each lifecycle step as a timestamp and a log entry", func() {
			run := mustRun(tracker, "pipeline")

			Expect(tracker.StepRunStart(run.ID)).To(Succeed())
			Expect(tracker.StepRunBAStart(run.ID)).To(Succeed())
			Expect(tracker.StepRunBAEnd(run.ID)).To(Succeed())
			Expect(tracker.StepRunTasksStart(run.ID)).To(Succeed())
			Expect(tracker.StepRunTasksEnd(run.ID)).To(Succeed())
			Expect(tracker.StepRunEndOk(run.ID)).To(Succeed())

			got, err := tracker.GetRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Start).NotTo(BeNil())
			Expect(got.BAStart).NotTo(BeNil())
			Expect(got.BAEnd).NotTo(BeNil())
			Expect(got.TasksStart).NotTo(BeNil())
			Expect(got.TasksEnd).NotTo(BeNil())
			Expect(got.End).NotTo(BeNil())
			Expect(got.EndState).NotTo(BeNil())
			Expect(*got.EndState).To(Equal(store.EndStateOk))

			steps, err := tracker.ListStepsForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())

			var names []string
			for _, s := range steps {
				names = append(names, s.Step)
			}
			Expect(names).To(Equal([]string{
				"run_start", "ba_start", "ba_end", "tasks_start", "tasks_end", "run_end_ok",
			}))
		})

		It("walks a task through its stage pipeline", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 0, `"hello"`)

			Expect(tracker.StepTaskStart(task.ID)).To(Succeed())
			Expect(tracker.StepTaskDataStart(task.ID)).To(Succeed())
			Expect(tracker.StepTaskDataEnd(task.ID)).To(Succeed())
			Expect(tracker.StepTaskAiStart(task.ID)).To(Succeed())
			Expect(tracker.StepTaskAiEnd(task.ID)).To(Succeed())
			Expect(tracker.StepTaskOutputStart(task.ID)).To(Succeed())
			Expect(tracker.StepTaskOutputEnd(task.ID)).To(Succeed())
			Expect(tracker.StepTaskEndOk(task.ID)).To(Succeed())

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))

			got := tasks[0]
			Expect(got.Start).NotTo(BeNil())
			Expect(got.DataStart).NotTo(BeNil())
			Expect(got.DataEnd).NotTo(BeNil())
			Expect(got.AiStart).NotTo(BeNil())
			Expect(got.AiEnd).NotTo(BeNil())
			Expect(got.OutputStart).NotTo(BeNil())
			Expect(got.OutputEnd).NotTo(BeNil())
			Expect(got.End).NotTo(BeNil())
			Expect(*got.EndState).To(Equal(store.EndStateOk))
		})

		It("keeps the first end state when a task is ended twice", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 0, `"x"`)

			errID, err := tracker.StepTaskEndErr(task.ID, store.StageData, "data script blew up")
			Expect(err).NotTo(HaveOccurred())
			Expect(errID).NotTo(BeEmpty())

			// Second error loses the race: no new record, empty id back.
			secondID, err := tracker.StepTaskEndErr(task.ID, store.StageAi, "model call failed")
			Expect(err).NotTo(HaveOccurred())
			Expect(secondID).To(BeEmpty())

			// An Ok after an Err must not overwrite either.
			Expect(tracker.StepTaskEndOk(task.ID)).To(Succeed())

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*tasks[0].EndState).To(Equal(store.EndStateErr))
			Expect(tasks[0].EndErrID).NotTo(BeNil())
			Expect(*tasks[0].EndErrID).To(Equal(errID))

			rec, err := tracker.GetErr(errID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Content).To(Equal("data script blew up"))
			Expect(rec.Stage).To(Equal(store.StageData))
			Expect(rec.TaskID).NotTo(BeNil())
			Expect(*rec.TaskID).To(Equal(task.ID))
		})

		It("keeps the first end state when a run is ended twice", func() {
			run := mustRun(tracker, "pipeline")

			errID, err := tracker.StepRunEndErr(run.ID, store.StageBeforeAll, "before_all failed")
			Expect(err).NotTo(HaveOccurred())
			Expect(errID).NotTo(BeEmpty())

			secondID, err := tracker.StepRunEndErr(run.ID, store.StageAfterAll, "late failure")
			Expect(err).NotTo(HaveOccurred())
			Expect(secondID).To(BeEmpty())

			got, err := tracker.GetRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.EndState).To(Equal(store.EndStateErr))
			Expect(*got.EndErrID).To(Equal(errID))

			rec, err := tracker.GetErr(errID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Content).To(Equal("before_all failed"))
			Expect(rec.Stage).To(Equal(store.StageBeforeAll))
			Expect(rec.TaskID).To(BeNil())
		})

		It("records a skip with the input index and reason in the log", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 2, `"one"`)

			Expect(tracker.StepTaskEndSkip(task.ID, 2, "because")).To(Succeed())

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*tasks[0].EndState).To(Equal(store.EndStateSkip))
			Expect(tasks[0].EndSkipReason).NotTo(BeNil())
			Expect(*tasks[0].EndSkipReason).To(Equal("because"))

			steps, err := tracker.ListStepsForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(HaveLen(1))
			Expect(steps[0].Message).To(ContainSubstring("input index: 2"))
			Expect(steps[0].Message).To(ContainSubstring("because"))
		})

		It("omits the reason suffix when a skip has no reason", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 0, `"one"`)

			Expect(tracker.StepTaskEndSkip(task.ID, 0, "")).To(Succeed())

			steps, err := tracker.ListStepsForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(steps[0].Message).To(Equal("Task skipped (input index: 0)"))
		})

		It("cancels only tasks that have not ended", func() {
			run := mustRun(tracker, "pipeline")
			done := mustTask(tracker, run.ID, 0, `"a"`)
			pending := mustTask(tracker, run.ID, 1, `"b"`)
			mustTask(tracker, run.ID, 2, `"c"`)

			Expect(tracker.StepTaskEndOk(done.ID)).To(Succeed())
			Expect(tracker.StepTaskStart(pending.ID)).To(Succeed())

			n, err := tracker.CancelAllNotEndedForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*tasks[0].EndState).To(Equal(store.EndStateOk))
			Expect(*tasks[1].EndState).To(Equal(store.EndStateCancel))
			Expect(*tasks[2].EndState).To(Equal(store.EndStateCancel))

			steps, err := tracker.ListStepsForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())

			var cancelMsg string
			for _, s := range steps {
				if s.Step == "cancel_tasks" {
					cancelMsg = s.Message
				}
			}
			Expect(cancelMsg).To(Equal("Cancelled 2 task(s) not yet ended"))
		})

		It("accrues cost increments from concurrent writers", func() {
			run := mustRun(tracker, "pipeline")

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(tracker.AddRunCost(run.ID, 0.5)).To(Succeed())
				}()
			}
			wg.Wait()

			got, err := tracker.GetRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TotalCost).To(BeNumerically("~", 5.0, 1e-9))
		})

		It("stores task output, usage and model override", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 0, `"in"`)

			Expect(tracker.SetTaskModelOv(task.ID, "gpt-5-mini")).To(Succeed())
			Expect(tracker.SetTaskOutput(task.ID, `{"answer":42}`)).To(Succeed())
			Expect(tracker.RecordTaskUsage(task.ID, store.TokenUsage{
				PromptTotal:     120,
				PromptCached:    80,
				CompletionTotal: 30,
			}, 0.0042)).To(Succeed())

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())

			got := tasks[0]
			Expect(*got.ModelOv).To(Equal("gpt-5-mini"))
			Expect(*got.OutputContent).To(Equal(`{"answer":42}`))
			Expect(got.Usage.PromptTotal).To(Equal(int64(120)))
			Expect(got.Usage.PromptCached).To(Equal(int64(80)))
			Expect(got.Usage.CompletionTotal).To(Equal(int64(30)))
			Expect(got.Cost).To(BeNumerically("~", 0.0042, 1e-9))
		})

		It("upserts pins by identifier within their scope", func() {
			run := mustRun(tracker, "pipeline")
			task := mustTask(tracker, run.ID, 0, `"in"`)

			Expect(tracker.UpsertPin(store.NewPin{
				RunID: run.ID, Iden: "progress", Priority: 1, Content: `"10%"`,
			})).To(Succeed())
			Expect(tracker.UpsertPin(store.NewPin{
				RunID: run.ID, Iden: "progress", Priority: 2, Content: `"50%"`,
			})).To(Succeed())
			Expect(tracker.UpsertPin(store.NewPin{
				RunID: run.ID, TaskID: &task.ID, Iden: "progress", Priority: 9, Content: `"task view"`,
			})).To(Succeed())

			pins, err := tracker.ListPinsForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(pins).To(HaveLen(2), "same iden in run scope overwrites, task scope is separate")

			// Ordered by priority descending.
			Expect(pins[0].Content).To(Equal(`"task view"`))
			Expect(pins[0].TaskID).NotTo(BeNil())
			Expect(pins[1].Content).To(Equal(`"50%"`))
			Expect(pins[1].Priority).To(BeNumerically("==", 2))
			Expect(pins[1].TaskID).To(BeNil())
		})

		It("lists runs most recent first with a limit", func() {
			for i := 0; i < 5; i++ {
				mustRun(tracker, fmt.Sprintf("agent-%d", i))
			}

			runs, err := tracker.ListRuns(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(3))
			Expect(runs[0].AgentName).To(Equal("agent-4"))
			Expect(runs[2].AgentName).To(Equal("agent-2"))
		})

		It("orders tasks by input index regardless of creation order", func() {
			run := mustRun(tracker, "pipeline")
			mustTask(tracker, run.ID, 2, `"c"`)
			mustTask(tracker, run.ID, 0, `"a"`)
			mustTask(tracker, run.ID, 1, `"b"`)

			tasks, err := tracker.ListTasksForRun(run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(3))
			Expect(tasks[0].Idx).To(Equal(0))
			Expect(tasks[1].Idx).To(Equal(1))
			Expect(tasks[2].Idx).To(Equal(2))
		})
	}

	Context("Memory backend", func() {
		runTrackerTests(func() (store.Tracker, func()) {
			return store.NewMemoryTracker(), func() {}
		})
	})

	Context("SQLite backend", func() {
		runTrackerTests(func() (store.Tracker, func()) {
			dir, err := os.MkdirTemp("", "tracker-test-*")
			Expect(err).NotTo(HaveOccurred())

			dbPath := filepath.Join(dir, "test.db")
			tracker, err := store.NewSQLiteTracker(dbPath)
			Expect(err).NotTo(HaveOccurred())

			return tracker, func() {
				tracker.Close()
				os.RemoveAll(dir)
			}
		})
	})
})
