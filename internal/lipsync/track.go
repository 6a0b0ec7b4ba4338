package lipsync

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no track is stored for a file code.
	ErrNotFound = errors.New("lip-sync track not found")
	// ErrProcess marks a failure of the external extraction process.
	ErrProcess = errors.New("lip-sync process failed")
	// ErrEmptyOutput means the extractor exited cleanly but printed nothing.
	ErrEmptyOutput = errors.New("lip-sync process produced no output")
	// ErrMalformed means the output did not decode into a track.
	ErrMalformed = errors.New("lip-sync output malformed")
)

// Cue is one mouth shape held between Start and End seconds.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

type Metadata struct {
	SoundFile string  `json:"soundFile,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// Track is the time-aligned mouth cue sequence consumed by the avatar.
type Track struct {
	Metadata  Metadata `json:"metadata"`
	MouthCues []Cue    `json:"mouthCues"`
}

// Decode parses and checks extractor output.
func Decode(data []byte) (Track, error) {
	var raw struct {
		Metadata  Metadata `json:"metadata"`
		MouthCues *[]Cue   `json:"mouthCues"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.MouthCues == nil {
		return Track{}, fmt.Errorf("%w: missing mouthCues", ErrMalformed)
	}
	cues := *raw.MouthCues
	for i, c := range cues {
		if c.End < c.Start {
			return Track{}, fmt.Errorf("%w: cue %d ends before it starts", ErrMalformed, i)
		}
		if c.Value == "" {
			return Track{}, fmt.Errorf("%w: cue %d has no shape", ErrMalformed, i)
		}
	}
	if cues == nil {
		cues = []Cue{}
	}
	return Track{Metadata: raw.Metadata, MouthCues: cues}, nil
}
