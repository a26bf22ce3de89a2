package consensus

// Quorum holds the per-group arithmetic used by every round.
type Quorum struct {
	N int `json:"n"`
	F int `json:"f"`
	// MinMessages is max(1, N-F), the vote count awaited before tallying a phase.
	MinMessages int `json:"min_messages"`
	// MajorityThreshold is ceil((N-F)/2), the vote count needed to decide.
	MajorityThreshold int `json:"majority_threshold"`
}

// NewQuorum computes the thresholds for n participants tolerating f faults.
func NewQuorum(n, f int) Quorum {
	minMessages := n - f
	if minMessages < 1 {
		minMessages = 1
	}
	return Quorum{
		N:                 n,
		F:                 f,
		MinMessages:       minMessages,
		MajorityThreshold: ceilHalf(n - f),
	}
}

// ceilHalf returns ceil(x/2) for any sign of x.
func ceilHalf(x int) int {
	if x > 0 {
		return (x + 1) / 2
	}
	return -(-x / 2)
}

// ToleranceHolds reports F < N/2.
func (q Quorum) ToleranceHolds() bool {
	return 2*q.F < q.N
}

// strictMajority reports count > N/2.
func (q Quorum) strictMajority(count int) bool {
	return 2*count > q.N
}

// Propose applies the phase-1 rule. Majority is measured against the whole group size N,
// so a partial quorum without a clear majority yields Ambiguous.
func (q Quorum) Propose(ones, zeros int) Value {
	switch {
	case q.strictMajority(ones):
		return One
	case q.strictMajority(zeros):
		return Zero
	default:
		return Ambiguous
	}
}

// Outcome is the result of the phase-2 decision rule.
type Outcome struct {
	Value   Value
	Decided bool
	// Coin is set when Value came from the random fallback.
	Coin bool
}

// Decide applies the phase-2 decision rule in priority order. coin is only flipped when
// F >= N/2 and no value leans clearly.
func (q Quorum) Decide(ones, zeros int, coin Coin) Outcome {
	tolerant := q.ToleranceHolds()
	switch {
	case ones >= q.MajorityThreshold && tolerant:
		return Outcome{Value: One, Decided: true}
	case zeros >= q.MajorityThreshold && tolerant:
		return Outcome{Value: Zero, Decided: true}
	case ones > zeros && ones >= q.MinMessages-1:
		return Outcome{Value: One}
	case zeros > ones && zeros >= q.MinMessages-1:
		return Outcome{Value: Zero}
	case !tolerant:
		return Outcome{Value: coin.Flip(), Coin: true}
	case ones > zeros:
		return Outcome{Value: One}
	default:
		return Outcome{Value: Zero}
	}
}
