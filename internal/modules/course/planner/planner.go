package planner

import (
	"fmt"
	"sort"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
)

const (
	DefaultMaxLessonMinutes = 30

	// coreIntroCap bounds how many items get a dedicated introduction and early review.
	coreIntroCap = 5

	// drillOverheadSeconds is added per drill event to the final lesson estimate.
	drillOverheadSeconds = 12
)

// SRSIntervals are the drill offsets (seconds) for the first item; later items
// scale them by their 1-based position.
var SRSIntervals = []int{5, 15, 45, 120, 300}

var fixedSectionSeconds = map[lessons.SectionType]int{
	lessons.SectionIntro:               120,
	lessons.SectionPhraseConstruction:  120,
	lessons.SectionDialogueIntegration: 180,
	lessons.SectionQA:                  180,
	lessons.SectionRoleplay:            240,
	lessons.SectionLateSRS:             300,
	lessons.SectionOutro:               60,
}

var sectionTitles = map[lessons.SectionType]string{
	lessons.SectionIntro:               "Introduction",
	lessons.SectionCoreIntro:           "New Phrases",
	lessons.SectionEarlySRS:            "Early Review",
	lessons.SectionPhraseConstruction:  "Building Phrases",
	lessons.SectionDialogueIntegration: "Dialogue Practice",
	lessons.SectionQA:                  "Questions and Answers",
	lessons.SectionRoleplay:            "Role Play",
	lessons.SectionLateSRS:             "Final Review",
	lessons.SectionOutro:               "Wrap-up",
}

type Options struct {
	MaxLessonMinutes int
}

func (o Options) maxSeconds() int {
	m := o.MaxLessonMinutes
	if m <= 0 {
		m = DefaultMaxLessonMinutes
	}
	return m * 60
}

// PlanCourse turns the extracted items into one or more lessons. It never fails:
// zero items yield a single empty lesson.
func PlanCourse(items []lessons.CoreItem, episodeTitle string, opts Options) lessons.CoursePlan {
	all := append([]lessons.CoreItem(nil), items...)
	course := lessons.CoursePlan{TotalCoreItems: all}

	if EstimateLessonSeconds(len(all)) <= opts.maxSeconds() {
		course.Lessons = []lessons.LessonPlan{PlanLesson(all, 1, episodeTitle)}
		return course
	}

	var groups [][]lessons.CoreItem
	for remaining := all; len(remaining) > 0; {
		take := (len(remaining) + 1) / 2
		if take < 3 {
			take = 3
		}
		if take > len(remaining) {
			take = len(remaining)
		}
		groups = append(groups, remaining[:take])
		remaining = remaining[take:]
	}
	for i, g := range groups {
		title := episodeTitle
		if len(groups) > 1 {
			title = fmt.Sprintf("%s: Lesson %d", episodeTitle, i+1)
		}
		course.Lessons = append(course.Lessons, PlanLesson(g, i+1, title))
	}
	return course
}

// EstimateLessonSeconds is the section-only estimate used for the split decision.
// Drill overhead is deliberately left out.
func EstimateLessonSeconds(n int) int {
	total := 0
	for _, t := range lessons.SectionOrder {
		total += sectionSeconds(t, n)
	}
	return total
}

func sectionSeconds(t lessons.SectionType, n int) int {
	capped := min(n, coreIntroCap)
	switch t {
	case lessons.SectionCoreIntro:
		return 90 * capped
	case lessons.SectionEarlySRS:
		return 30 * capped
	default:
		return fixedSectionSeconds[t]
	}
}

// PlanLesson builds the nine canonical sections and the drill schedule for one lesson.
func PlanLesson(items []lessons.CoreItem, lessonNumber int, title string) lessons.LessonPlan {
	n := len(items)
	first := items[:min(n, coreIntroCap)]

	sections := make([]lessons.LessonSection, 0, len(lessons.SectionOrder))
	lessonSeconds := 0
	for _, t := range lessons.SectionOrder {
		s := lessons.LessonSection{
			Type:                  t,
			Title:                 sectionTitles[t],
			TargetDurationSeconds: sectionSeconds(t, n),
		}
		switch t {
		case lessons.SectionCoreIntro, lessons.SectionEarlySRS:
			s.CoreItems = append([]lessons.CoreItem(nil), first...)
		case lessons.SectionLateSRS, lessons.SectionPhraseConstruction, lessons.SectionDialogueIntegration, lessons.SectionQA, lessons.SectionRoleplay:
			s.CoreItems = append([]lessons.CoreItem(nil), items...)
		}
		lessonSeconds += s.TargetDurationSeconds
		sections = append(sections, s)
	}

	drills := ScheduleDrills(items, lessonSeconds)
	return lessons.LessonPlan{
		LessonNumber:           lessonNumber,
		Title:                  title,
		Sections:               sections,
		CoreItems:              append([]lessons.CoreItem(nil), items...),
		TotalEstimatedDuration: lessonSeconds + drillOverheadSeconds*len(drills),
		DrillEvents:            drills,
	}
}

// ScheduleDrills emits one drill per item and SRS interval, clamped to the lesson
// length and sorted by offset. Ties keep item order.
func ScheduleDrills(items []lessons.CoreItem, lessonSeconds int) []lessons.DrillEvent {
	out := make([]lessons.DrillEvent, 0, len(items)*len(SRSIntervals))
	for i, item := range items {
		for k, interval := range SRSIntervals {
			offset := min(interval*(i+1), lessonSeconds)
			out = append(out, lessons.DrillEvent{
				ID:                  fmt.Sprintf("drill-%s-%d", item.ID, k),
				CoreItemID:          item.ID,
				CoreItem:            item,
				DrillType:           lessons.DrillCycle[k%len(lessons.DrillCycle)],
				TargetOffsetSeconds: offset,
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].TargetOffsetSeconds < out[b].TargetOffsetSeconds
	})
	return out
}
