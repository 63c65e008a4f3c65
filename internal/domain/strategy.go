package domain

import "fmt"

// Strategy identifies a digit/direction prediction the engine can trade.
type Strategy string

// Strategy constants
const (
	StrategyEven    Strategy = "Even"
	StrategyOdd     Strategy = "Odd"
	StrategyOver    Strategy = "Over"
	StrategyUnder   Strategy = "Under"
	StrategyMatches Strategy = "Matches"
	StrategyDiffers Strategy = "Differs"
	StrategyRise    Strategy = "Rise"
	StrategyFall    Strategy = "Fall"
)

// DefaultRotation is the fixed cyclic order used by sequential rotation.
var DefaultRotation = []Strategy{
	StrategyEven,
	StrategyOdd,
	StrategyOver,
	StrategyUnder,
	StrategyMatches,
	StrategyDiffers,
	StrategyRise,
	StrategyFall,
}

// ContractType is the exchange contract_type code.
type ContractType string

// Contract type codes as accepted by the proposal/buy calls.
const (
	ContractDigitEven  ContractType = "DIGITEVEN"
	ContractDigitOdd   ContractType = "DIGITODD"
	ContractDigitOver  ContractType = "DIGITOVER"
	ContractDigitUnder ContractType = "DIGITUNDER"
	ContractDigitMatch ContractType = "DIGITMATCH"
	ContractDigitDiff  ContractType = "DIGITDIFF"
	ContractCall       ContractType = "CALL"
	ContractPut        ContractType = "PUT"
)

var contractTypes = map[Strategy]ContractType{
	StrategyEven:    ContractDigitEven,
	StrategyOdd:     ContractDigitOdd,
	StrategyOver:    ContractDigitOver,
	StrategyUnder:   ContractDigitUnder,
	StrategyMatches: ContractDigitMatch,
	StrategyDiffers: ContractDigitDiff,
	StrategyRise:    ContractCall,
	StrategyFall:    ContractPut,
}

// ContractTypeFor maps a strategy onto its contract type code.
func ContractTypeFor(s Strategy) (ContractType, error) {
	ct, ok := contractTypes[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return ct, nil
}

// UsesBarrier reports whether the strategy carries a barrier/prediction digit.
func (s Strategy) UsesBarrier() bool {
	switch s {
	case StrategyOver, StrategyUnder, StrategyMatches, StrategyDiffers:
		return true
	}
	return false
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	_, ok := contractTypes[s]
	return ok
}

// ParseStrategy accepts the canonical name, case-sensitive.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Wins reports whether a contract of this strategy wins given the entry and
// exit ticks. Digit strategies look at the exit tick's last digit only.
func (s Strategy) Wins(barrier int, entry, exit Tick) bool {
	digit := exit.LastDigit()
	switch s {
	case StrategyEven:
		return digit%2 == 0
	case StrategyOdd:
		return digit%2 == 1
	case StrategyOver:
		return digit > barrier
	case StrategyUnder:
		return digit < barrier
	case StrategyMatches:
		return digit == barrier
	case StrategyDiffers:
		return digit != barrier
	case StrategyRise:
		return exit.Quote > entry.Quote
	case StrategyFall:
		return exit.Quote < entry.Quote
	}
	return false
}
