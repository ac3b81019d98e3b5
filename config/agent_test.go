package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sortie/config"
)

var _ = Describe("Agent", func() {

	Describe("Stage scripts", func() {
		It("decodes heredoc stage attributes", func() {
			hcl := minimalVarsHCL() + minimalModelHCL() + `
agent "staged" {
  model = models.default

  before_all = <<-EOT
    before_all_response({"inputs": inputs})
  EOT

  data = <<-EOT
    input == "" ? skip("empty input") : input
  EOT

  prompt "instruction" { content = "Process {{.data}}" }

  output    = "\"done: \" + ai_response.content"
  after_all = "outputs"
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			a := cfg.Agents[0]
			Expect(a.HasBeforeAll()).To(BeTrue())
			Expect(a.HasData()).To(BeTrue())
			Expect(a.HasOutput()).To(BeTrue())
			Expect(a.HasAfterAll()).To(BeTrue())
			Expect(a.Data).To(ContainSubstring(`skip("empty input")`))
			Expect(a.AfterAll).To(Equal("outputs"))
		})

		It("reports absent stages", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			a := cfg.Agents[0]
			Expect(a.HasBeforeAll()).To(BeFalse())
			Expect(a.HasData()).To(BeFalse())
			Expect(a.HasOutput()).To(BeFalse())
			Expect(a.HasAfterAll()).To(BeFalse())
			Expect(a.HasPrompt()).To(BeTrue())
		})
	})

	Describe("Prompt parts", func() {
		It("keeps prompt blocks in declaration order with their kinds", func() {
			hcl := minimalVarsHCL() + minimalModelHCL() + `
agent "prompted" {
  model = models.default

  prompt "system"      { content = "You are terse." }
  prompt "instruction" { content = "Fix typos in {{.input}}" }
  prompt "assistant"   { content = "Understood." }
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			parts := cfg.Agents[0].Prompts
			Expect(parts).To(HaveLen(3))
			Expect(parts[0].Kind).To(Equal(config.PromptSystem))
			Expect(parts[1].Kind).To(Equal(config.PromptInstruction))
			Expect(parts[2].Kind).To(Equal(config.PromptAssistant))
		})

		It("parses the cache option", func() {
			hcl := minimalVarsHCL() + minimalModelHCL() + `
agent "cached" {
  model = models.default

  prompt "system" {
    options = "cache = true"
    content = "Long shared context"
  }
  prompt "instruction" { content = "Question" }
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			parts := cfg.Agents[0].Prompts
			Expect(parts[0].CacheEnabled()).To(BeTrue())
			Expect(parts[1].CacheEnabled()).To(BeFalse())
		})

		It("rejects unknown prompt kinds", func() {
			a := config.Agent{
				Model:   "default",
				Prompts: []config.PromptPart{{Kind: "oracle", Content: "x"}},
			}
			err := a.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unknown prompt kind"))
		})
	})

	Describe("Options block", func() {
		It("decodes temperature, max_tokens and top_p", func() {
			hcl := minimalVarsHCL() + minimalModelHCL() + `
agent "tuned" {
  model             = models.default
  input_concurrency = 4

  options {
    temperature = 0.2
    max_tokens  = 1024
    top_p       = 0.9
  }

  prompt "instruction" { content = "hi" }
}
`
			_, f := writeFixture("config.hcl", hcl)
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())

			a := cfg.Agents[0]
			Expect(a.Options).NotTo(BeNil())
			Expect(*a.Options.Temperature).To(BeNumerically("~", 0.2, 1e-9))
			Expect(*a.Options.MaxTokens).To(Equal(1024))
			Expect(*a.Options.TopP).To(BeNumerically("~", 0.9, 1e-9))
			Expect(a.Concurrency()).To(Equal(4))
		})

		It("defaults concurrency to 1 when unset", func() {
			_, f := writeFixture("config.hcl", fullBaseHCL())
			cfg, err := config.LoadFile(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Agents[0].Concurrency()).To(Equal(1))
		})
	})

	Describe("ResolveModel", func() {
		It("finds the referenced model block", func() {
			models := []config.Model{
				{Name: "fast", Provider: config.ProviderOpenAI, ModelName: "gpt-5-mini"},
				{Name: "smart", Provider: config.ProviderAnthropic, ModelName: "claude-sonnet-4-5"},
			}
			a := config.Agent{Model: "smart"}
			m, err := a.ResolveModel(models)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.ModelName).To(Equal("claude-sonnet-4-5"))
		})

		It("errors for an unknown reference", func() {
			a := config.Agent{Model: "missing"}
			_, err := a.ResolveModel(nil)
			Expect(err).To(HaveOccurred())
		})
	})
})
