package ai

import "strings"

// Directive is the fixed system instruction sent with every model call.
type Directive struct {
	Persona string
	Rules   []string
}

// DefaultDirective describes the trading research assistant.
func DefaultDirective() Directive {
	return Directive{
		Persona: "you are a friendly trading researcher assistant",
		Rules: []string{
			"reply in lower case",
			"only talk about cryptocurrency markets; politely decline anything else",
			"when the user asks for a price, an overview, a chart or a comparison, call the matching tool instead of quoting numbers",
			"refer to coins by their coingecko id, e.g. bitcoin, ethereum, solana",
			"keep text replies short",
		},
	}
}

// String renders the directive as a bullet list. Braces are stripped because
// the prompt template treats them as placeholders.
func (d Directive) String() string {
	var builder strings.Builder
	builder.WriteString("- ")
	builder.WriteString(d.Persona)
	for _, rule := range d.Rules {
		builder.WriteString("\n- ")
		builder.WriteString(rule)
	}
	return strings.NewReplacer("{", "", "}", "").Replace(builder.String())
}
