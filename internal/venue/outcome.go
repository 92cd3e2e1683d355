package venue

// FailureKind classifies a non-success order outcome. Transient failures are
// worth a bounded retry; permanent ones are not.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransient
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Venue return codes the governor reacts to. Everything not listed here is
// treated as a permanent rejection.
const (
	RetDone         = 10009 // order executed
	RetBusy         = 10030 // terminal busy or link down
	RetNoConnection = 10031 // no connection to the trade server
	RetTimeout      = 10012 // request timed out at the venue
)

// Classify maps a venue return code onto the failure taxonomy.
func Classify(retcode int) FailureKind {
	switch retcode {
	case RetDone:
		return FailureNone
	case RetBusy, RetNoConnection, RetTimeout:
		return FailureTransient
	default:
		return FailurePermanent
	}
}

// Outcome builds an OrderOutcome from a venue return code.
func Outcome(retcode int, ticket int64, message string) OrderOutcome {
	kind := Classify(retcode)
	return OrderOutcome{
		Success: kind == FailureNone,
		RetCode: retcode,
		Kind:    kind,
		Ticket:  ticket,
		Message: message,
	}
}

// FloatingProfit sums unrealized profit across a position snapshot.
func FloatingProfit(positions []Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.Profit
	}
	return total
}
