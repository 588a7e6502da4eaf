package species

import (
	"reflect"
	"testing"
)

func TestParse_ExtractsBlock(t *testing.T) {
	text := "SPECIES DETECTED:\n- Fox\n- Deer\n\nDETAILED ANALYSIS:\nThe fox appears around the 5 second mark."

	rep := Parse(text)
	if rep.RawText != text {
		t.Errorf("RawText altered: %q", rep.RawText)
	}
	want := []string{"Fox", "Deer"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}

func TestParse_CaseInsensitiveHeader(t *testing.T) {
	rep := Parse("Species Detected:\n- Red Fox\n- Eurasian Badger\n")

	want := []string{"Red Fox", "Eurasian Badger"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}

func TestParse_AnalysisHeaderTerminatesBlock(t *testing.T) {
	// No blank line between the block and the analysis section.
	text := "SPECIES DETECTED:\n- Fox\nDetailed Analysis:\n- this dash line is prose, not a species\n"

	rep := Parse(text)
	want := []string{"Fox"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}

func TestParse_DeduplicatesExactMatches(t *testing.T) {
	text := "SPECIES DETECTED:\n- Fox\n- fox\n- Fox\n- Deer\n"

	rep := Parse(text)
	// Dedupe is case sensitive, so Fox and fox both survive.
	want := []string{"Fox", "fox", "Deer"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}

func TestParse_NoHeader(t *testing.T) {
	text := "I could not identify any animals in these frames."

	rep := Parse(text)
	if rep.RawText != text {
		t.Errorf("RawText altered: %q", rep.RawText)
	}
	if len(rep.Species) != 0 {
		t.Errorf("Species = %v, want none", rep.Species)
	}
}

func TestParse_SkipsNoiseInsideBlock(t *testing.T) {
	text := "SPECIES DETECTED:\nNote: low light, identifications tentative\n- Fox\n-\n- Deer\n\n- Wolf\n"

	rep := Parse(text)
	// The bare dash is dropped and Wolf sits past the blank line that
	// ends the block.
	want := []string{"Fox", "Deer"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}

func TestParse_EmptyText(t *testing.T) {
	rep := Parse("")
	if rep.RawText != "" || len(rep.Species) != 0 {
		t.Errorf("Parse(\"\") = %+v, want empty report", rep)
	}
}

func TestParse_IndentedEntries(t *testing.T) {
	rep := Parse("SPECIES DETECTED:\n  - Fox\n\t- Deer\n")

	want := []string{"Fox", "Deer"}
	if !reflect.DeepEqual(rep.Species, want) {
		t.Errorf("Species = %v, want %v", rep.Species, want)
	}
}
