package recurrence

// Validate checks rule text and returns nil when it describes a valid rule.
// Otherwise the error is a *ValidationError or a *ParseError whose message
// is the diagnostic for the caller.
//
// The DTSTART check runs before parsing, so text without DTSTART always
// reports "DTSTART is required" whatever its RRULE contains.
func Validate(text string) error {
	if !hasProperty(text, "DTSTART") {
		return &ValidationError{Field: "DTSTART", Msg: ErrDTStartRequired.Error(), err: ErrDTStartRequired}
	}
	rule, err := Parse(text)
	if err != nil {
		return err
	}
	return rule.Validate()
}

// Validate checks the required-field and consistency constraints of r,
// stopping at the first failure.
func (r Rule) Validate() error {
	start, ok := r.DTStart.Get()
	if !ok {
		return &ValidationError{Field: "DTSTART", Msg: ErrDTStartRequired.Error(), err: ErrDTStartRequired}
	}
	if !r.Freq.Valid() {
		return invalid("FREQ", "RRULE with FREQ is required")
	}
	if r.Interval < 1 {
		return invalid("INTERVAL", "INTERVAL must be a positive integer")
	}
	if count, ok := r.Count.Get(); ok && count < 0 {
		return invalid("COUNT", "COUNT must be a non-negative integer")
	}
	if until, ok := r.Until.Get(); ok && until.Before(start) {
		return invalid("UNTIL", "UNTIL must not be earlier than DTSTART")
	}
	if !r.ByDay.Empty() && (r.Freq == Monthly || r.Freq == Yearly) {
		return invalid("BYDAY", "BYDAY is only supported with FREQ=WEEKLY or finer")
	}
	return nil
}
