package polling

import (
	"strconv"
	"time"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

// RateWindowSeconds is the trailing window used for the votes-per-second metric.
const RateWindowSeconds = 10

// buildTally folds the question's event log into the aggregate view. It is a
// pure function of the log plus the question type; calling it twice with no
// intervening events yields identical results.
func buildTally(q domain.Question, events []domain.VoteEvent, now time.Time) domain.Tally {
	tally := domain.Tally{
		QuestionID: q.ID,
		BySegment: map[domain.Segment]int64{
			domain.SegmentRoom:   0,
			domain.SegmentRemote: 0,
		},
	}

	if q.Type != domain.TypeSlider {
		tally.ByOption = make(map[string]int64)
		tally.BySegmentAndOption = map[domain.Segment]map[string]int64{
			domain.SegmentRoom:   make(map[string]int64),
			domain.SegmentRemote: make(map[string]int64),
		}
	}

	if q.Type == domain.TypeChoice {
		// Every configured option shows up in the breakdown even with zero votes.
		for i := range q.Options {
			key := strconv.Itoa(i)
			tally.ByOption[key] = 0
			tally.BySegmentAndOption[domain.SegmentRoom][key] = 0
			tally.BySegmentAndOption[domain.SegmentRemote][key] = 0
		}
	}

	var sliderSum int64
	var inWindow int64
	windowStart := now.Add(-RateWindowSeconds * time.Second)

	for _, e := range events {
		tally.Total++
		tally.BySegment[e.Segment]++

		if e.CreatedAt.After(windowStart) {
			inWindow++
		}

		switch q.Type {
		case domain.TypeChoice:
			if e.OptionIndex == nil {
				continue
			}
			key := strconv.Itoa(*e.OptionIndex)
			tally.ByOption[key]++
			tally.BySegmentAndOption[e.Segment][key]++
		case domain.TypeEmoji:
			tally.ByOption[e.Emoji]++
			tally.BySegmentAndOption[e.Segment][e.Emoji]++
		case domain.TypeSlider:
			if e.SliderValue != nil {
				sliderSum += int64(*e.SliderValue)
			}
		}
	}

	if q.Type == domain.TypeSlider && tally.Total > 0 {
		avg := float64(sliderSum) / float64(tally.Total)
		tally.Average = &avg
	}

	tally.VotesPerSecond = float64(inWindow) / RateWindowSeconds

	return tally
}
