package timeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/scene"
)

// Entry places one scene on the output timeline. FadeIn is the overlap with the
// previous scene and FadeOut the overlap with the next one.
type Entry struct {
	Scene   scene.Scene
	Start   float64
	FadeIn  float64
	FadeOut float64
}

func (e Entry) End() float64 { return e.Start + e.Scene.Duration }

// Clamp records a transition that was shortened to fit a short scene.
type Clamp struct {
	Between   [2]int
	Requested float64
	Applied   float64
}

func (c Clamp) String() string {
	return fmt.Sprintf("transition between scenes %d and %d clamped from %.3fs to %.3fs", c.Between[0], c.Between[1], c.Requested, c.Applied)
}

type Timeline struct {
	Entries  []Entry
	Duration float64
	Clamped  []Clamp
}

// Overlaps returns the crossfade length between entry i and i+1.
func (t Timeline) Overlaps() []float64 {
	if len(t.Entries) < 2 {
		return nil
	}
	out := make([]float64, len(t.Entries)-1)
	for i := range out {
		out[i] = t.Entries[i].FadeOut
	}
	return out
}

// Stitcher joins scenes with crossfades of a fixed length.
type Stitcher struct {
	Transition float64
}

func (s Stitcher) Stitch(scenes []scene.Scene) (Timeline, error) {
	const op = "stitch"
	if len(scenes) == 0 {
		return Timeline{}, failure.New(failure.InvalidTransition, op, errors.New("nothing to stitch"))
	}
	t := s.Transition
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return Timeline{}, failure.Errorf(failure.InvalidTransition, op, "transition %v is not a non-negative duration", t)
	}

	entries := make([]Entry, len(scenes))
	entries[0] = Entry{Scene: scenes[0]}
	duration := scenes[0].Duration
	var clamped []Clamp

	for i := 1; i < len(scenes); i++ {
		prev, next := scenes[i-1], scenes[i]
		shorter := math.Min(prev.Duration, next.Duration)
		if shorter <= 0 {
			return Timeline{}, failure.Errorf(failure.InvalidTransition, op, "scene %d or %d has no duration", prev.Index, next.Index)
		}
		overlap := t
		if t > 0 && t >= shorter {
			overlap = shorter / 2
			clamped = append(clamped, Clamp{Between: [2]int{prev.Index, next.Index}, Requested: t, Applied: overlap})
		}
		entries[i-1].FadeOut = overlap
		entries[i] = Entry{
			Scene:  next,
			Start:  entries[i-1].Start + prev.Duration - overlap,
			FadeIn: overlap,
		}
		duration += next.Duration - overlap
	}

	return Timeline{Entries: entries, Duration: duration, Clamped: clamped}, nil
}
