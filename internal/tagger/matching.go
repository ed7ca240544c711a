package tagger

import (
	"regexp"
	"strings"

	"github.com/jhprks/damerau"
	"golang.org/x/text/unicode/norm"
)

var (
	reFeat        = regexp.MustCompile(`(?i)[\s(\[]*(?:feat\.?|ft\.?|featuring)\s+[^)\]]*[)\]]?`)
	reDecoration  = regexp.MustCompile(`[(\[][^)\]]*[)\]]`)
	reTrackPrefix = regexp.MustCompile(`^\s*\d{1,3}\s*[-.]\s*`)
	rePunctuation = regexp.MustCompile(`[^\pL\pN\s-]`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reDanglingHyp = regexp.MustCompile(`(?:^|\s)-+(?:\s|$)`)
)

// CleanTitle normalizes a title for comparison: lowercase, featuring
// credits and parenthesized decorations stripped, leading track-number
// prefixes removed, punctuation dropped except in-word hyphens.
func CleanTitle(title string) string {
	s := norm.NFC.String(title)
	s = strings.ToLower(s)
	s = reTrackPrefix.ReplaceAllString(s, "")
	s = reFeat.ReplaceAllString(s, " ")
	s = reDecoration.ReplaceAllString(s, " ")
	s = rePunctuation.ReplaceAllString(s, " ")
	s = reDanglingHyp.ReplaceAllString(s, " ")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CleanArtist normalizes an artist name for comparison
func CleanArtist(artist string) string {
	s := norm.NFC.String(artist)
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	if after, found := strings.CutSuffix(s, ", the"); found {
		s = "the " + after
	}
	s = rePunctuation.ReplaceAllString(s, " ")
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// levenshteinRel is the Damerau-Levenshtein distance scaled so identical
// strings score 1 and unrelated strings approach 0.
func levenshteinRel(a, b string) float64 {
	max := len([]rune(a))
	if n := len([]rune(b)); n > max {
		max = n
	}
	if max == 0 {
		return 1
	}
	distance := damerau.DamerauLevenshteinDistance(a, b)
	return 1 - float64(distance)/float64(max)
}

// tokenJaccard is the token-set Jaccard index of two cleaned strings
func tokenJaccard(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	union := make(map[string]bool, len(ta)+len(tb))
	for _, t := range ta {
		union[t] = true
	}
	both := 0
	for _, t := range tb {
		if set[t] {
			set[t] = false
			both++
		}
		union[t] = true
	}
	return float64(both) / float64(len(union))
}

// Similarity scores two cleaned strings in [0,1]. Deterministic and
// symmetric: the max of normalized Damerau-Levenshtein and token-set
// Jaccard, so both near-identical spellings and reordered tokens rank high.
func Similarity(a, b string) float64 {
	lev := levenshteinRel(a, b)
	jac := tokenJaccard(a, b)
	if jac > lev {
		return jac
	}
	return lev
}

const (
	titleWeight  = 0.6
	artistWeight = 0.4
)

type rankedCandidate struct {
	match       TrackMatch
	titleScore  float64
	artistScore float64
	order       int
}

// MatchTrack ranks candidates against the probed file and returns the
// winner, or nil when the best accuracy is below config.MinAccuracy.
func MatchTrack(info *AudioFileInfo, candidates []Track, config *TaggerConfig) *TrackMatch {
	cleanInfoTitle := CleanTitle(info.Title)
	cleanInfoArtist := CleanArtist(info.Artist)

	var ranked []rankedCandidate
	for i, c := range candidates {
		if c.Validate() != nil {
			continue
		}

		titleScore := Similarity(cleanInfoTitle, CleanTitle(c.Title))
		artistScore := 0.0
		for _, artist := range c.Artists {
			if s := Similarity(cleanInfoArtist, CleanArtist(artist)); s > artistScore {
				artistScore = s
			}
		}

		var reasons []MatchReason

		// ISRC equality overrides every fuzzy rule
		if info.ISRC != "" && c.ISRC != "" && strings.EqualFold(info.ISRC, c.ISRC) {
			ranked = append(ranked, rankedCandidate{
				match:       TrackMatch{Accuracy: 1.0, Track: c, Reasons: []MatchReason{ReasonISRC}},
				titleScore:  1.0,
				artistScore: 1.0,
				order:       i,
			})
			continue
		}

		if titleScore < config.MinSubscore || artistScore < config.MinSubscore {
			continue
		}

		// BPM gate
		if config.MatchByBPM && info.BPM > 0 && c.BPM > 0 {
			delta := info.BPM - c.BPM
			if delta < 0 {
				delta = -delta
			}
			if delta > int64(config.BPMTolerance) {
				continue
			}
			reasons = append(reasons, ReasonBPMCheck)
		}

		// Strict mode
		if config.StrictMode {
			if titleScore < config.Strictness || artistScore < config.Strictness/2 {
				continue
			}
			reasons = append(reasons, ReasonStrict)
		}

		if titleScore >= 1.0 {
			reasons = append(reasons, ReasonTitleExact)
		}
		if artistScore >= 1.0 {
			reasons = append(reasons, ReasonArtistExact)
		}

		accuracy := titleWeight*titleScore + artistWeight*artistScore
		ranked = append(ranked, rankedCandidate{
			match:       TrackMatch{Accuracy: accuracy, Track: c, Reasons: reasons},
			titleScore:  titleScore,
			artistScore: artistScore,
			order:       i,
		})
	}

	if len(ranked) == 0 {
		return nil
	}

	best := ranked[0]
	for _, cand := range ranked[1:] {
		if compareCandidates(info, cand, best) > 0 {
			best = cand
		}
	}

	if best.match.Accuracy < config.MinAccuracy {
		return nil
	}

	// Record when the winner was decided by the duration tie-break
	if info.DurationMS > 0 {
		bestDelta := durationDelta(info.DurationMS, best.match.Track.Duration.Milliseconds())
		for _, cand := range ranked {
			if cand.order != best.order && cand.match.Accuracy == best.match.Accuracy &&
				durationDelta(info.DurationMS, cand.match.Track.Duration.Milliseconds()) != bestDelta {
				best.match.Reasons = append(best.match.Reasons, ReasonDurationTieBreak)
				break
			}
		}
	}
	return &best.match
}

// compareCandidates returns 1 when a outranks b, -1 when b outranks a.
// Tie-break chain: accuracy, duration delta, release date, provider order.
func compareCandidates(info *AudioFileInfo, a, b rankedCandidate) int {
	if a.match.Accuracy != b.match.Accuracy {
		if a.match.Accuracy > b.match.Accuracy {
			return 1
		}
		return -1
	}

	if info.DurationMS > 0 {
		da := durationDelta(info.DurationMS, a.match.Track.Duration.Milliseconds())
		db := durationDelta(info.DurationMS, b.match.Track.Duration.Milliseconds())
		if da != db {
			if da < db {
				return 1
			}
			return -1
		}
	}

	da, db := a.match.Track.ReleaseDate, b.match.Track.ReleaseDate
	if da != nil && db != nil && !da.Equal(*db) {
		if da.Before(*db) {
			return 1
		}
		return -1
	}
	if da != nil && db == nil {
		return 1
	}

	if a.order < b.order {
		return 1
	}
	return -1
}

func durationDelta(a, b int64) int64 {
	if b == 0 {
		// Unknown candidate duration loses duration tie-breaks
		return 1 << 40
	}
	if a > b {
		return a - b
	}
	return b - a
}
