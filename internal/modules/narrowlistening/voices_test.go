package narrowlistening

import (
	"slices"
	"testing"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	apperr "github.com/convolab/lessonaudio/internal/pkg/errors"
)

func voice(id string, g lessons.Gender) lessons.Voice {
	return lessons.Voice{ID: id, Gender: g, LanguageCode: "ja-JP"}
}

func TestAssignVoicesEdgeCases(t *testing.T) {
	if _, err := AssignVoicesToSegments(3, nil); !apperr.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("empty pool: want precondition error, got %v", err)
	}
	got, err := AssignVoicesToSegments(0, []lessons.Voice{voice("a", lessons.GenderFemale)})
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("zero segments: want empty slice, got %v (%v)", got, err)
	}
}

func TestAssignVoices(t *testing.T) {
	cases := []struct {
		name  string
		count int
		pool  []lessons.Voice
		start int
		want  []string
	}{
		{
			name:  "single voice everywhere",
			count: 3,
			pool:  []lessons.Voice{voice("a", lessons.GenderFemale)},
			want:  []string{"a", "a", "a"},
		},
		{
			name:  "duplicates collapse",
			count: 2,
			pool:  []lessons.Voice{voice("a", lessons.GenderFemale), voice("a", lessons.GenderFemale)},
			want:  []string{"a", "a"},
		},
		{
			name:  "one gender round robin",
			count: 5,
			pool:  []lessons.Voice{voice("f1", lessons.GenderFemale), voice("f2", lessons.GenderFemale), voice("f3", lessons.GenderFemale)},
			want:  []string{"f1", "f2", "f3", "f1", "f2"},
		},
		{
			name:  "genders alternate from chosen start",
			count: 5,
			pool:  []lessons.Voice{voice("f1", lessons.GenderFemale), voice("m1", lessons.GenderMale), voice("f2", lessons.GenderFemale)},
			start: 1,
			want:  []string{"m1", "f1", "m1", "f2", "m1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := assignVoices(tc.count, tc.pool, func(int) int { return tc.start })
			if err != nil {
				t.Fatalf("assignVoices: %v", err)
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("want %v got %v", tc.want, got)
			}
		})
	}
}

func TestAssignVoicesNeverRepeatsConsecutively(t *testing.T) {
	pools := [][]lessons.Voice{
		{voice("f1", lessons.GenderFemale), voice("m1", lessons.GenderMale)},
		{voice("f1", lessons.GenderFemale), voice("f2", lessons.GenderFemale)},
		{voice("f1", lessons.GenderFemale), voice("m1", lessons.GenderMale), voice("m2", lessons.GenderMale), voice("n1", lessons.GenderNeutral)},
	}
	for _, pool := range pools {
		for range 20 {
			got, err := AssignVoicesToSegments(11, pool)
			if err != nil {
				t.Fatalf("AssignVoicesToSegments: %v", err)
			}
			for i := 1; i < len(got); i++ {
				if got[i] == got[i-1] {
					t.Fatalf("voice %s repeated at %d in %v", got[i], i, got)
				}
			}
		}
	}
}
