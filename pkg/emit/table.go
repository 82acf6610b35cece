package emit

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

// TableColumns is the header of the tabular form.
var TableColumns = []string{"EventRecordID", "TimeCreated", "EventID", "Provider", "Computer"}

// TableFields extracts the tabular columns of one record. doc may be nil,
// in which case only the decoder-supplied fields are filled in.
func TableFields(rec *evtx.Record, doc *evtx.Document) []string {
	ts := ""
	if !rec.Timestamp.IsZero() {
		ts = rec.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	eventID := rec.EventID
	var provider, computer string
	if doc != nil {
		if n := doc.Lookup("Event", "System", "EventID"); n != nil && eventID == "" {
			eventID = n.InnerText()
		}
		if n := doc.Lookup("Event", "System", "Provider"); n != nil {
			provider, _ = n.Attr("Name")
		}
		if n := doc.Lookup("Event", "System", "Computer"); n != nil {
			computer = n.InnerText()
		}
	}
	return []string{strconv.FormatUint(rec.ID, 10), ts, eventID, provider, computer}
}

// TableLine joins fields with ';', quoting fields that need it.
func TableLine(fields []string) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Comma = ';'
	if err := w.Write(fields); err != nil {
		return "", errors.Wrap(err, "write row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "flush row")
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
