package password

// MinLength is the minimum number of characters (runes) a password needs.
const MinLength = 8

// Violation names the first policy rule a submission breaks. The empty
// Violation means the submission is acceptable.
type Violation string

const (
	OK       Violation = ""
	Empty    Violation = "empty"
	TooShort Violation = "too_short"
	Mismatch Violation = "mismatch"
)

// Check applies the rules in a fixed order and reports only the first
// failure: empty, then length, then confirmation mismatch.
func Check(password, confirmation string) Violation {
	if password == "" {
		return Empty
	}
	if len([]rune(password)) < MinLength {
		return TooShort
	}
	if password != confirmation {
		return Mismatch
	}
	return OK
}
