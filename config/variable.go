package config

import "fmt"

// Variable declares a named config value, resolvable from the vars file or
// its default. Secrets must come from the vars file so they never land in
// committed config.
type Variable struct {
	Name    string `hcl:"name,label"`
	Default string `hcl:"default,optional"`
	Secret  bool   `hcl:"secret,optional"`
}

func (v *Variable) Validate() error {
	if v.Secret && v.Default != "" {
		return fmt.Errorf("secret variable cannot have a default value in config")
	}
	return nil
}
