package filter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FieldKind is one of the fixed fields of a record's System section. The
// set is closed; Path maps every kind to its location.
type FieldKind int

const (
	Provider FieldKind = iota
	EventID
	Level
	Task
	Opcode
	Keywords
	TimeCreated
	EventRecordID
	ActivityID
	RelatedActivityID
	ProcessID
	ThreadID
	Channel
	Computer
	UserID

	fieldKindCount
)

// FieldKinds lists every kind in declaration order.
func FieldKinds() []FieldKind {
	out := make([]FieldKind, 0, fieldKindCount)
	for k := Provider; k < fieldKindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k FieldKind) String() string {
	switch k {
	case Provider:
		return "Provider"
	case EventID:
		return "EventID"
	case Level:
		return "Level"
	case Task:
		return "Task"
	case Opcode:
		return "Opcode"
	case Keywords:
		return "Keywords"
	case TimeCreated:
		return "TimeCreated"
	case EventRecordID:
		return "EventRecordID"
	case ActivityID:
		return "ActivityID"
	case RelatedActivityID:
		return "RelatedActivityID"
	case ProcessID:
		return "ProcessID"
	case ThreadID:
		return "ThreadID"
	case Channel:
		return "Channel"
	case Computer:
		return "Computer"
	case UserID:
		return "UserID"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Path is the location of the field relative to the System section.
func (k FieldKind) Path() string {
	switch k {
	case Provider:
		return "Provider/@Name"
	case EventID:
		return "EventID/text()"
	case Level:
		return "Level/text()"
	case Task:
		return "Task/text()"
	case Opcode:
		return "Opcode/text()"
	case Keywords:
		return "Keywords/text()"
	case TimeCreated:
		return "TimeCreated/@SystemTime"
	case EventRecordID:
		return "EventRecordID/text()"
	case ActivityID:
		return "Correlation/@ActivityID"
	case RelatedActivityID:
		return "Correlation/@RelatedActivityID"
	case ProcessID:
		return "Execution/@ProcessID"
	case ThreadID:
		return "Execution/@ThreadID"
	case Channel:
		return "Channel/text()"
	case Computer:
		return "Computer/text()"
	case UserID:
		return "Security/@UserID"
	default:
		panic(fmt.Sprintf("filter: no path for %v", k))
	}
}

// FlagName is the command line spelling: EventID -> event-id.
func (k FieldKind) FlagName() string {
	name := k.String()
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			// start a new word unless this continues an acronym ("ID")
			prevUpper := i > 0 && name[i-1] >= 'A' && name[i-1] <= 'Z'
			if i > 0 && !prevUpper {
				sb.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ParseFieldKind accepts the field name or its flag spelling in any case.
func ParseFieldKind(s string) (FieldKind, error) {
	want := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	for _, k := range FieldKinds() {
		if strings.ToLower(k.String()) == want {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown system field %q", s)
}
