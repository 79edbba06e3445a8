package permission

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Result is returned by Checker.Check. Rule is nil when no rule matched.
type Result struct {
	Decision Decision
	Rule     *Rule
}

// RejectedError is returned when a tool invocation is denied, either by a
// rule, by the session mode or by the user.
type RejectedError struct {
	SessionID string
	ToolName  string
	CallID    string
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}
