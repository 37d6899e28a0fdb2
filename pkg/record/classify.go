package record

import "bytes"

// Mode selects what a Classifier keeps.
type Mode int

const (
	// ModeAudit keeps records stored on the target location.
	ModeAudit Mode = iota
	// ModeMembership keeps every record so its object id can be added to a
	// membership filter.
	ModeMembership
)

func (m Mode) String() string {
	switch m {
	case ModeAudit:
		return "audit"
	case ModeMembership:
		return "membership"
	default:
		return "unknown"
	}
}

// Reason explains a Decision.
type Reason int

const (
	// ReasonKept means the record passed the predicate.
	ReasonKept Reason = iota
	// ReasonPart means the record is a multipart upload part and parts are excluded.
	ReasonPart
	// ReasonNoMatch means the record is not stored on the target location.
	ReasonNoMatch
)

func (r Reason) String() string {
	switch r {
	case ReasonKept:
		return "kept"
	case ReasonPart:
		return "part"
	case ReasonNoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one record.
type Decision struct {
	Keep   bool
	Reason Reason
	// Record is set whenever the row was fully parsed.
	Record ObjectRecord
	// Prefiltered is true when the raw text check discarded the row
	// without parsing it.
	Prefiltered bool
}

// Classifier decides keep or discard for object records.
type Classifier struct {
	mode         Mode
	target       string
	targetBytes  []byte
	excludeParts bool
}

// NewAuditClassifier keeps records that list target among their locations.
func NewAuditClassifier(target string, excludeParts bool) *Classifier {
	return &Classifier{
		mode:         ModeAudit,
		target:       target,
		targetBytes:  []byte(target),
		excludeParts: excludeParts,
	}
}

// NewMembershipClassifier keeps every record that is not an excluded part.
func NewMembershipClassifier(excludeParts bool) *Classifier {
	return &Classifier{mode: ModeMembership, excludeParts: excludeParts}
}

// Mode returns the classifier's mode.
func (c *Classifier) Mode() Mode {
	return c.mode
}

// Target returns the audited location, empty in membership mode.
func (c *Classifier) Target() string {
	return c.target
}

// Classify applies the part exclusion and the predicate to a parsed record.
func (c *Classifier) Classify(rec ObjectRecord) Decision {
	if c.excludeParts && rec.IsPart {
		return Decision{Reason: ReasonPart, Record: rec}
	}
	if c.mode == ModeAudit && !rec.HasLocation(c.target) {
		return Decision{Reason: ReasonNoMatch, Record: rec}
	}
	return Decision{Keep: true, Reason: ReasonKept, Record: rec}
}

// ClassifyRow parses and classifies a raw row. In audit mode a row whose
// serialized form has no escape sequences and never mentions the target is
// discarded unparsed; the parsed classification is authoritative for every
// other row. A row that fails the validated parse is an error.
func (c *Classifier) ClassifyRow(row Row) (Decision, error) {
	if c.excludeParts && row.Key != "" && IsPartPath(row.Key) {
		return Decision{Reason: ReasonPart}, nil
	}
	if c.mode == ModeAudit && bytes.IndexByte(row.Value, '\\') < 0 && !bytes.Contains(row.Value, c.targetBytes) {
		return Decision{Reason: ReasonNoMatch, Prefiltered: true}, nil
	}

	rec, err := Parse(row)
	if err != nil {
		return Decision{}, err
	}
	return c.Classify(rec), nil
}
