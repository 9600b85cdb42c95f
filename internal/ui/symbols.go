package ui

// Status symbols used in block status lines and the summary.
const (
	SymbolSuccess = "✓"
	SymbolFailure = "✗"
	SymbolWarning = "!"
)
