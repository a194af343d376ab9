package narrowlistening

import (
	"math/rand/v2"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

// AssignVoicesToSegments picks a voice for each of count segments so that no
// voice speaks two segments in a row whenever the pool has two or more voices.
func AssignVoicesToSegments(count int, pool []lessons.Voice) ([]string, error) {
	return assignVoices(count, pool, rand.IntN)
}

func assignVoices(count int, pool []lessons.Voice, intn func(int) int) ([]string, error) {
	voices := dedupeVoices(pool)
	if len(voices) == 0 {
		return nil, apperr.Precondition("voice pool is empty")
	}
	out := make([]string, 0, max(count, 0))
	if count <= 0 {
		return out, nil
	}
	if len(voices) == 1 {
		for range count {
			out = append(out, voices[0].ID)
		}
		return out, nil
	}

	var genders []lessons.Gender
	byGender := map[lessons.Gender][]string{}
	for _, v := range voices {
		g := lessons.NormalizeGender(string(v.Gender))
		if _, seen := byGender[g]; !seen {
			genders = append(genders, g)
		}
		byGender[g] = append(byGender[g], v.ID)
	}

	if len(genders) == 1 {
		ids := byGender[genders[0]]
		for i := range count {
			out = append(out, ids[i%len(ids)])
		}
		return out, nil
	}

	start := intn(len(genders))
	cursor := map[lessons.Gender]int{}
	for i := range count {
		g := genders[(start+i)%len(genders)]
		ids := byGender[g]
		out = append(out, ids[cursor[g]%len(ids)])
		cursor[g]++
	}
	return out, nil
}

func dedupeVoices(pool []lessons.Voice) []lessons.Voice {
	seen := map[string]bool{}
	out := make([]lessons.Voice, 0, len(pool))
	for _, v := range pool {
		if v.ID == "" || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		out = append(out, v)
	}
	return out
}
