package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Stage is a deal's position in the sales pipeline. The set of stages is
// closed: the only valid values are the exported constants below, and
// Stages returns them in canonical pipeline order.
type Stage uint8

// StageUnknown is the zero value. It is produced when a stored stage label
// is not part of the enumeration and is never accepted from API input.
const (
	StageUnknown Stage = iota
	StageProspecting
	StageQualification
	StageProposal
	StageClosing
	StageWon
	StageLost

	stageEnd
)

// StageCount is the number of valid stages.
const StageCount = int(stageEnd) - 1

var stageNames = [stageEnd]string{
	StageUnknown:       "unknown",
	StageProspecting:   "prospecting",
	StageQualification: "qualification",
	StageProposal:      "proposal",
	StageClosing:       "closing",
	StageWon:           "won",
	StageLost:          "lost",
}

// Stages returns every valid stage in canonical order.
func Stages() []Stage {
	out := make([]Stage, 0, StageCount)
	for s := StageProspecting; s < stageEnd; s++ {
		out = append(out, s)
	}
	return out
}

// ParseStage converts a label such as "proposal" into a Stage. Matching is
// case-insensitive; unknown labels are an error.
func ParseStage(label string) (Stage, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	for s := StageProspecting; s < stageEnd; s++ {
		if stageNames[s] == label {
			return s, nil
		}
	}
	return StageUnknown, fmt.Errorf("unknown stage %q", label)
}

// Valid reports whether s is one of the canonical stages.
func (s Stage) Valid() bool {
	return s > StageUnknown && s < stageEnd
}

// Index returns the zero-based canonical position of s, or -1 when s is not
// valid.
func (s Stage) Index() int {
	if !s.Valid() {
		return -1
	}
	return int(s) - 1
}

// Closed reports whether the stage ends a deal's life in the pipeline.
func (s Stage) Closed() bool {
	return s == StageWon || s == StageLost
}

func (s Stage) String() string {
	if s >= stageEnd {
		return stageNames[StageUnknown]
	}
	return stageNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Only canonical labels
// are accepted.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer.
func (s Stage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot store invalid stage %d", s)
	}
	return s.String(), nil
}

// Scan implements sql.Scanner. A label outside the enumeration scans as
// StageUnknown rather than failing, so a single drifted row cannot break a
// whole listing; callers decide how to treat unknown stages.
func (s *Stage) Scan(src interface{}) error {
	var label string
	switch v := src.(type) {
	case string:
		label = v
	case []byte:
		label = string(v)
	case nil:
		*s = StageUnknown
		return nil
	default:
		return fmt.Errorf("scan stage: unsupported type %T", src)
	}
	parsed, err := ParseStage(label)
	if err != nil {
		*s = StageUnknown
		return nil
	}
	*s = parsed
	return nil
}
