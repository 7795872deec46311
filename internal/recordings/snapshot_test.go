package recordings

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestParseNestedSchema(t *testing.T) {
	t.Parallel()
	data := []byte(`{
	  "Nightly News": {"schedule": {"days": ["Mon","Tue"], "start": "18:29", "end": "19:01"}, "source": "CBS", "output_prefix": "NightlyNews"},
	  "Alpha": {"schedule": {"days": "Sun", "start": "23:30", "end": "00:30"}, "source": "NBC", "outputPrefix": "AlphaShow"}
	}`)
	snap, err := Parse("defs.json", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !slices.Equal(snap.Names(), []string{"Alpha", "Nightly News"}) {
		t.Fatalf("names = %v (want sorted)", snap.Names())
	}

	a := snap.Entries[0]
	if a.Err != nil {
		t.Fatalf("Alpha invalid: %v", a.Err)
	}
	if a.Def.OutputPrefix != "AlphaShow" || !slices.Equal(a.Def.Days, []string{"Sun"}) {
		t.Fatalf("Alpha = %+v", a.Def)
	}
	if !a.Spec.CrossesMidnight() || !a.Spec.Matches(time.Sunday) {
		t.Fatalf("Alpha spec wrong: %+v", a.Spec)
	}

	n := snap.Entries[1]
	if n.Def.Source != "CBS" || n.Def.Start != "18:29" || n.Def.End != "19:01" {
		t.Fatalf("Nightly News = %+v", n.Def)
	}
}

func TestParseLegacyFlatSchema(t *testing.T) {
	t.Parallel()
	data := []byte(`{
	  "60 Minutes": {"day": "Sun", "start": "18:59", "end": "21:01", "channel_name": "CBS", "filename_prefix": "60Minutes"},
	  "The Tonight Show": {"day": ["Mon","Tue","Wed","Thu","Fri"], "start": "23:34", "end": "00:38", "channel_name": "NBC"}
	}`)
	snap, err := Parse("defs.json", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %d", len(snap.Entries))
	}
	m := snap.Entries[0].Def
	if m.Source != "CBS" || m.OutputPrefix != "60Minutes" || !slices.Equal(m.Days, []string{"Sun"}) {
		t.Fatalf("60 Minutes = %+v", m)
	}
	ts := snap.Entries[1].Def
	if ts.OutputPrefix != "TheTonightShow" {
		t.Fatalf("default prefix = %q", ts.OutputPrefix)
	}
	if len(ts.Days) != 5 || snap.Entries[1].Err != nil {
		t.Fatalf("Tonight Show = %+v err=%v", ts, snap.Entries[1].Err)
	}
}

func TestParseKeepsInvalidEntries(t *testing.T) {
	t.Parallel()
	data := []byte(`{
	  "bad days": {"schedule": {"days": ["Someday"], "start": "18:00", "end": "19:00"}, "source": "CBS"},
	  "no source": {"schedule": {"days": ["Mon"], "start": "18:00", "end": "19:00"}},
	  "ok": {"schedule": {"days": ["Mon"], "start": "18:00", "end": "19:00"}, "source": "CBS"}
	}`)
	snap, err := Parse("defs.json", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.Entries[0].Err == nil || snap.Entries[1].Err == nil {
		t.Fatalf("expected invalid entries: %+v", snap.Entries)
	}
	if snap.Entries[2].Err != nil {
		t.Fatalf("ok entry invalid: %v", snap.Entries[2].Err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	data := []byte(`
Elementary:
  schedule:
    days: [Mon]
    start: "21:59"
    end: "23:01"
  source: CBS
  output_prefix: Elementary
`)
	snap, err := Parse("defs.yaml", data)
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Err != nil {
		t.Fatalf("entries = %+v", snap.Entries)
	}
}

func TestParseFileErrors(t *testing.T) {
	t.Parallel()
	if _, err := Parse("defs.json", []byte("  ")); err == nil {
		t.Fatal("expected error for empty file")
	}
	if _, err := Parse("defs.json", []byte("{nope")); err == nil {
		t.Fatal("expected error for malformed json")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromDisk(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "defs.json")
	body := `{"x": {"schedule": {"days": ["Mon"], "start": "18:00", "end": "19:00"}, "source": "CBS"}}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := Load(p)
	if err != nil || len(snap.Entries) != 1 {
		t.Fatalf("Load = %+v, %v", snap, err)
	}
}

func TestDefinitionEqual(t *testing.T) {
	t.Parallel()
	a := Definition{Name: "a", Days: []string{"Mon"}, Start: "18:00", End: "19:00", Source: "CBS", OutputPrefix: "A"}
	b := a
	b.Days = []string{"Mon"}
	if !a.Equal(b) {
		t.Fatal("identical definitions should be equal")
	}
	b.End = "19:30"
	if a.Equal(b) {
		t.Fatal("different end should not be equal")
	}
	c := a
	c.Days = []string{"Mon", "Tue"}
	if a.Equal(c) {
		t.Fatal("different days should not be equal")
	}
}

func TestDefaultPrefix(t *testing.T) {
	t.Parallel()
	if got := DefaultPrefix("CBS This Morning!"); got != "CBSThisMorning" {
		t.Fatalf("DefaultPrefix = %q", got)
	}
	if got := DefaultPrefix("   "); got != "recording" {
		t.Fatalf("DefaultPrefix(blank) = %q", got)
	}
}
