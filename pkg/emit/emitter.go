package emit

import (
	"bufio"
	"cmp"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/PhucNguyen204/evtxgrep/pkg/evtx"
)

// Format selects the output shape.
type Format int

const (
	FormatTree Format = iota
	FormatTable
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatTable:
		return "table"
	case FormatRaw:
		return "raw"
	default:
		return "tree"
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tree", "xml":
		return FormatTree, nil
	case "table", "csv":
		return FormatTable, nil
	case "raw":
		return FormatRaw, nil
	default:
		return FormatTree, errors.Errorf("unknown output format %q (want tree|table|raw)", s)
	}
}

// Info is one serialized match.
type Info struct {
	RecordID   uint64
	Timestamp  time.Time
	Serialized string
}

// SortInfos orders infos by ascending record id, keeping arrival order
// for equal ids.
func SortInfos(infos []Info) {
	slices.SortStableFunc(infos, func(a, b Info) int { return cmp.Compare(a.RecordID, b.RecordID) })
}

type Options struct {
	Format Format
	Sorted bool
	Width  int
	Header bool
}

// Emitter writes matches either as they arrive or, in sorted mode, all at
// once on Flush. It is safe for concurrent use.
type Emitter struct {
	opts Options

	mu      sync.Mutex
	w       *bufio.Writer
	buf     []Info
	emitted int
	header  bool
}

func New(w io.Writer, opts Options) *Emitter {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	return &Emitter{opts: opts, w: bufio.NewWriter(w)}
}

func (e *Emitter) Options() Options { return e.opts }

// Serialize renders one record in the configured format. doc may be nil
// for the raw format.
func (e *Emitter) Serialize(rec *evtx.Record, doc *evtx.Document) (Info, error) {
	info := Info{RecordID: rec.ID, Timestamp: rec.Timestamp}
	switch e.opts.Format {
	case FormatTable:
		line, err := TableLine(TableFields(rec, doc))
		if err != nil {
			return Info{}, errors.Wrapf(err, "record %d", rec.ID)
		}
		info.Serialized = line
	case FormatRaw:
		if rec.Raw == "" {
			return Info{}, errors.Errorf("record %d: no source text", rec.ID)
		}
		info.Serialized = rec.Raw
	default:
		if doc == nil {
			return Info{}, errors.Errorf("record %d: no document", rec.ID)
		}
		info.Serialized = Tree(doc, e.opts.Width)
	}
	return info, nil
}

// Emit writes info now or buffers it for Flush.
func (e *Emitter) Emit(info Info) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opts.Sorted {
		e.buf = append(e.buf, info)
		return nil
	}
	return e.write(info)
}

// Flush writes buffered matches in record id order and flushes the
// underlying writer.
func (e *Emitter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writeHeader(); err != nil {
		return err
	}
	SortInfos(e.buf)
	for _, info := range e.buf {
		if err := e.write(info); err != nil {
			return err
		}
	}
	e.buf = e.buf[:0]
	return errors.Wrap(e.w.Flush(), "flush output")
}

// Emitted is the number of records written so far.
func (e *Emitter) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

func (e *Emitter) writeHeader() error {
	if e.header || !e.opts.Header || e.opts.Format != FormatTable {
		return nil
	}
	e.header = true
	line, err := TableLine(TableColumns)
	if err != nil {
		return err
	}
	_, err = e.w.WriteString(line + "\n")
	return errors.Wrap(err, "write header")
}

func (e *Emitter) write(info Info) error {
	if err := e.writeHeader(); err != nil {
		return err
	}
	if _, err := e.w.WriteString(info.Serialized); err != nil {
		return errors.Wrap(err, "write record")
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "write record")
	}
	e.emitted++
	return nil
}
