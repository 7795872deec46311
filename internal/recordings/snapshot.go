// Package recordings loads the task-definition snapshot: the externally
// authored file that maps recording names to weekly schedules.
package recordings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"tvrecd/internal/config"
	"tvrecd/internal/schedule"
)

// Definition is the static part of a recording task.
type Definition struct {
	Name         string   `json:"name"`
	Days         []string `json:"days"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Source       string   `json:"source"`
	OutputPrefix string   `json:"output_prefix"`
}

// Equal compares every static field.
func (d Definition) Equal(o Definition) bool {
	if d.Name != o.Name || d.Start != o.Start || d.End != o.End ||
		d.Source != o.Source || d.OutputPrefix != o.OutputPrefix {
		return false
	}
	if len(d.Days) != len(o.Days) {
		return false
	}
	for i := range d.Days {
		if d.Days[i] != o.Days[i] {
			return false
		}
	}
	return true
}

// Compile validates the definition and compiles its schedule.
func (d Definition) Compile() (schedule.Spec, error) {
	if strings.TrimSpace(d.Source) == "" {
		return schedule.Spec{}, errors.New("source is required")
	}
	return schedule.Compile(d.Days, d.Start, d.End)
}

// Entry is one loaded definition plus its validation result.
// Invalid entries are kept so the recorder can surface them.
type Entry struct {
	Def  Definition
	Spec schedule.Spec
	Err  error
}

// Snapshot is a parsed definitions file, ordered by name.
type Snapshot struct {
	Entries []Entry
}

func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Def.Name)
	}
	return out
}

// Load reads and parses the definitions file at path (JSON or YAML).
//
// A file that cannot be read or decoded returns an error. Individual
// definitions that fail validation are returned with Entry.Err set.
func Load(path string) (Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(path, b)
}

// Parse decodes definitions; path only selects the format by extension.
func Parse(path string, data []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, fmt.Errorf("definitions %s: empty file", path)
	}
	var raw map[string]rawEntry
	if err := config.DecodeLenient(path, data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("definitions %s: %w", path, err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := Snapshot{Entries: make([]Entry, 0, len(names))}
	for _, name := range names {
		def := raw[name].definition(name)
		spec, err := def.Compile()
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		snap.Entries = append(snap.Entries, Entry{Def: def, Spec: spec, Err: err})
	}
	return snap, nil
}

// rawEntry accepts both the nested schema
//
//	{"schedule": {"days": [...], "start": "HH:MM", "end": "HH:MM"}, "source": "...", "output_prefix": "..."}
//
// and the older flat one
//
//	{"day": [...] | "Sun", "start": "HH:MM", "end": "HH:MM", "channel_name": "...", "filename_prefix": "..."}
type rawEntry struct {
	Schedule *rawSchedule `json:"schedule"`
	Source   string       `json:"source"`
	Prefix   string       `json:"output_prefix"`
	PrefixCC string       `json:"outputPrefix"`

	Day            dayList `json:"day"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	ChannelName    string  `json:"channel_name"`
	FilenamePrefix string  `json:"filename_prefix"`
}

type rawSchedule struct {
	Days  dayList `json:"days"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

func (r rawEntry) definition(name string) Definition {
	d := Definition{
		Name:         name,
		Days:         []string(r.Day),
		Start:        r.Start,
		End:          r.End,
		Source:       firstNonEmpty(r.Source, r.ChannelName),
		OutputPrefix: firstNonEmpty(r.Prefix, r.PrefixCC, r.FilenamePrefix),
	}
	if r.Schedule != nil {
		d.Days = []string(r.Schedule.Days)
		d.Start = r.Schedule.Start
		d.End = r.Schedule.End
	}
	d.Source = strings.TrimSpace(d.Source)
	d.Start = strings.TrimSpace(d.Start)
	d.End = strings.TrimSpace(d.End)
	if strings.TrimSpace(d.OutputPrefix) == "" {
		d.OutputPrefix = DefaultPrefix(name)
	}
	return d
}

// DefaultPrefix derives an artifact prefix from a recording name by keeping
// letters and digits only ("The Late Late Show" -> "TheLateLateShow").
func DefaultPrefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "recording"
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// dayList decodes either a single day label or a list of them.
type dayList []string

func (d *dayList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = dayList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("days: want string or list of strings: %w", err)
	}
	*d = dayList(list)
	return nil
}
