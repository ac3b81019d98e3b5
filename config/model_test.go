package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sortie/config"
)

var _ = Describe("Model", func() {

	Describe("Validate", func() {
		It("accepts each supported provider", func() {
			for _, p := range []config.Provider{
				config.ProviderAnthropic,
				config.ProviderOpenAI,
				config.ProviderGemini,
			} {
				m := config.Model{Name: "m", Provider: p, ModelName: "some-model"}
				Expect(m.Validate()).To(Succeed())
			}
		})

		It("rejects an unknown provider", func() {
			m := config.Model{Name: "m", Provider: "cohere", ModelName: "x"}
			err := m.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported provider"))
		})

		It("rejects an empty model_name", func() {
			m := config.Model{Name: "m", Provider: config.ProviderOpenAI}
			err := m.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model_name is required"))
		})
	})
})

var _ = Describe("Pricing", func() {

	Describe("CalculateCost", func() {
		It("bills fresh and cached input at different rates", func() {
			// claude-sonnet-4-5: 3.00 in / 0.30 cached / 15.00 out per 1M
			cost := config.CalculateCost("claude-sonnet-4-5", 1_000_000, 500_000, 100_000)
			// 0.5M fresh * 3.00 + 0.5M cached * 0.30 + 0.1M out * 15.00
			Expect(cost).To(BeNumerically("~", 1.5+0.15+1.5, 1e-9))
		})

		It("returns zero for unknown models", func() {
			Expect(config.CalculateCost("mystery-model", 1000, 0, 1000)).To(BeZero())
		})

		It("clamps cached tokens to the input total", func() {
			withClamp := config.CalculateCost("gpt-5-mini", 1000, 5000, 0)
			allCached := config.CalculateCost("gpt-5-mini", 1000, 1000, 0)
			Expect(withClamp).To(BeNumerically("~", allCached, 1e-12))
		})
	})
})
