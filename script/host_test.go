package script_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sortie/script"
)

var _ = Describe("ExprHost", func() {
	var (
		host *script.ExprHost
		ctx  context.Context
	)

	BeforeEach(func() {
		host = script.NewExprHost()
		ctx = context.Background()
	})

	stageEnv := func(bindings map[string]any) script.Env {
		env := script.BaseEnv()
		for k, v := range bindings {
			env[k] = v
		}
		return env
	}

	unwrap := func(value any) (string, map[string]any) {
		outer, ok := value.(map[string]any)
		Expect(ok).To(BeTrue(), "expected an envelope map, got %T", value)
		inner, ok := outer[script.EnvelopeKey].(map[string]any)
		Expect(ok).To(BeTrue())
		kind, _ := inner["kind"].(string)
		data, _ := inner["data"].(map[string]any)
		return kind, data
	}

	It("evaluates plain expressions against bound variables", func() {
		result, err := host.Run(ctx, `"out:" + input`, stageEnv(map[string]any{"input": "two"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("out:two"))
	})

	It("passes non-envelope maps through untouched", func() {
		result, err := host.Run(ctx, `{summary: input, length: len(input)}`, stageEnv(map[string]any{"input": "abc"}))
		Expect(err).NotTo(HaveOccurred())
		m, ok := result.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(m["summary"]).To(Equal("abc"))
		Expect(m).NotTo(HaveKey(script.EnvelopeKey))
	})

	It("builds a skip envelope with a reason", func() {
		result, err := host.Run(ctx,
			`input == "one" ? skip("because") : "out:" + input`,
			stageEnv(map[string]any{"input": "one"}))
		Expect(err).NotTo(HaveOccurred())

		kind, data := unwrap(result)
		Expect(kind).To(Equal(script.KindSkip))
		Expect(data["reason"]).To(Equal("because"))
	})

	It("builds a skip envelope without a reason", func() {
		result, err := host.Run(ctx, `skip()`, stageEnv(nil))
		Expect(err).NotTo(HaveOccurred())

		kind, data := unwrap(result)
		Expect(kind).To(Equal(script.KindSkip))
		Expect(data).NotTo(HaveKey("reason"))
	})

	It("falls through the ternary when the guard does not match", func() {
		result, err := host.Run(ctx,
			`input == "one" ? skip("because") : "out:" + input`,
			stageEnv(map[string]any{"input": "two"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("out:two"))
	})

	It("builds a data_response envelope", func() {
		result, err := host.Run(ctx,
			`data_response({input: "patched", options: {model: "small"}})`,
			stageEnv(nil))
		Expect(err).NotTo(HaveOccurred())

		kind, data := unwrap(result)
		Expect(kind).To(Equal(script.KindDataResponse))
		Expect(data["input"]).To(Equal("patched"))
		options, ok := data["options"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(options["model"]).To(Equal("small"))
	})

	It("builds a before_all_response envelope", func() {
		result, err := host.Run(ctx,
			`before_all_response({inputs: ["a", "b"], before_all: {run_at: "now"}})`,
			stageEnv(map[string]any{"inputs": []any{"x", "y", "z"}}))
		Expect(err).NotTo(HaveOccurred())

		kind, data := unwrap(result)
		Expect(kind).To(Equal(script.KindBeforeAllResponse))
		Expect(data["inputs"]).To(HaveLen(2))
	})

	It("reports compile errors", func() {
		_, err := host.Run(ctx, `input +`, stageEnv(nil))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("compile script"))
	})

	It("reports runtime errors", func() {
		_, err := host.Run(ctx, `no_such_helper()`, stageEnv(nil))
		Expect(err).To(HaveOccurred())
	})

	It("stops when the context is already cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := host.Run(cancelled, `1 + 1`, stageEnv(nil))
		Expect(err).To(MatchError(context.Canceled))
	})

	Describe("Compile", func() {
		It("accepts a valid script", func() {
			Expect(host.Compile(`input == "one" ? skip() : input`)).To(Succeed())
		})

		It("rejects a broken script", func() {
			err := host.Compile(`1 ==`)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("compile script"))
		})
	})
})
