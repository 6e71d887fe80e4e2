// Package eventlog persists captured critical sections as JSON Lines.
//
// An event log starts with one header line followed by one line per access:
//
//	{"format":"lockprof-events","version":"v1.0.0","session":"6f1c...","started":"2025-01-02T03:04:05Z"}
//	{"seq":1,"goroutine":7,"lock":3,"lock_name":"cache.mu","kind":"mutex","acquired":"...","released":"..."}
//
// The file is append-only: the periodic Flusher adds new records on every
// tick, so a log can be read back while the profiled program still runs.
// Readers accept any version with the same major version as FormatVersion.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/kolkov/lockprof/internal/lockprof/access"
)

const (
	// FormatName identifies lockprof event logs.
	FormatName = "lockprof-events"

	// FormatVersion is the version written by this package.
	FormatVersion = "v1.0.0"

	// maxLineSize bounds one JSON line; records are far smaller.
	maxLineSize = 1 << 20
)

var (
	// ErrBadHeader is returned when the first line is not a lockprof header.
	ErrBadHeader = errors.New("eventlog: missing or malformed header")

	// ErrIncompatibleVersion is returned for logs of another major version.
	ErrIncompatibleVersion = errors.New("eventlog: incompatible format version")
)

// Header is the first line of an event log.
type Header struct {
	Format  string    `json:"format"`
	Version string    `json:"version"`
	Session uuid.UUID `json:"session"`
	Started time.Time `json:"started"`
}

// NewHeader returns a header for a new session.
func NewHeader(session uuid.UUID, started time.Time) Header {
	return Header{
		Format:  FormatName,
		Version: FormatVersion,
		Session: session,
		Started: started.UTC(),
	}
}

// record is the wire form of access.Access.
type record struct {
	Seq           uint64    `json:"seq"`
	ReleaseSeq    uint64    `json:"release_seq,omitempty"`
	Goroutine     int64     `json:"goroutine"`
	GoroutineName string    `json:"goroutine_name,omitempty"`
	Lock          uint64    `json:"lock"`
	LockName      string    `json:"lock_name,omitempty"`
	Kind          string    `json:"kind"`
	Acquired      time.Time `json:"acquired"`
	Released      time.Time `json:"released"`
	Site          uint64    `json:"site,omitempty"`
}

func toRecord(a access.Access) record {
	return record{
		Seq:           a.Seq,
		ReleaseSeq:    a.ReleaseSeq,
		Goroutine:     a.Accessor.ID,
		GoroutineName: a.Accessor.Name,
		Lock:          a.Target.ID,
		LockName:      a.Target.Name,
		Kind:          a.Target.Kind.String(),
		Acquired:      a.Acquired.UTC(),
		Released:      a.Released.UTC(),
		Site:          a.Site,
	}
}

func (r record) toAccess() (access.Access, error) {
	kind, ok := access.ParseKind(r.Kind)
	if !ok {
		return access.Access{}, fmt.Errorf("unknown lock kind %q", r.Kind)
	}
	return access.Access{
		Seq:        r.Seq,
		ReleaseSeq: r.ReleaseSeq,
		Accessor:   access.Accessor{ID: r.Goroutine, Name: r.GoroutineName},
		Target:     access.Target{ID: r.Lock, Name: r.LockName, Kind: kind},
		Acquired:   r.Acquired,
		Released:   r.Released,
		Site:       r.Site,
	}, nil
}

// Writer encodes headers and records to an io.Writer.
type Writer struct {
	enc *json.Encoder
}

// NewWriter returns a Writer on w. Writes are not buffered by Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// WriteHeader writes h as one line.
func (w *Writer) WriteHeader(h Header) error {
	if err := w.enc.Encode(h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Write writes one line per record.
func (w *Writer) Write(records []access.Access) error {
	for _, a := range records {
		if err := w.enc.Encode(toRecord(a)); err != nil {
			return fmt.Errorf("write record %d: %w", a.Seq, err)
		}
	}
	return nil
}

// Log is a decoded event log.
type Log struct {
	Header  Header
	Records []access.Access
}

// Read decodes an event log.
//
// Blank lines are skipped. Decode failures report the 1-based line number.
func Read(r io.Reader) (*Log, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		log     Log
		line    int
		haveHdr bool
	)
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		if !haveHdr {
			if err := json.Unmarshal(raw, &log.Header); err != nil || log.Header.Format != FormatName {
				return nil, fmt.Errorf("line %d: %w", line, ErrBadHeader)
			}
			if err := checkVersion(log.Header.Version); err != nil {
				return nil, err
			}
			haveHdr = true
			continue
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: decode record: %w", line, err)
		}
		a, err := rec.toAccess()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		log.Records = append(log.Records, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if !haveHdr {
		return nil, ErrBadHeader
	}
	return &log, nil
}

// ReadFile decodes the event log stored at path.
func ReadFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	log, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return log, nil
}

func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("%w: %s (reader supports %s)", ErrIncompatibleVersion, v, semver.Major(FormatVersion))
	}
	return nil
}

// MarshalAccess encodes one access in the event log record format.
func MarshalAccess(a access.Access) ([]byte, error) {
	return json.Marshal(toRecord(a))
}

// UnmarshalAccess decodes data produced by MarshalAccess.
func UnmarshalAccess(data []byte) (access.Access, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return access.Access{}, fmt.Errorf("decode record: %w", err)
	}
	return rec.toAccess()
}
