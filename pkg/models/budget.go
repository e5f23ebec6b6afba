package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps the tokens a model may consume per period.
// Model "*" applies the cap to every model.
type BudgetPolicy struct {
	Model     string       `json:"model" yaml:"model" toml:"model"`
	MaxTokens int64        `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Period    BudgetPeriod `json:"period" yaml:"period" toml:"period"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
}
