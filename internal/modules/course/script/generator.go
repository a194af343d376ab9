package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

const (
	speedNormal = 1.0
	speedSlow   = 0.75

	pauseTransition = 0.5
	pauseSettle     = 1.0
	pausePractice   = 2.0
	pauseAnticipate = 3.0
)

var drillPrompts = map[lessons.DrillType]string{
	lessons.DrillRecall:    "How do you say \"%s\"?",
	lessons.DrillTransform: "Try saying \"%s\".",
	lessons.DrillExpand:    "One more time: \"%s\".",
	lessons.DrillContext:   "Remember \"%s\"?",
	lessons.DrillRoleplay:  "In the conversation, how would you say \"%s\"?",
}

// VoiceContext names the languages and voices a script is written for.
type VoiceContext struct {
	TargetLanguage     string
	NativeLanguage     string
	NarratorVoiceID    string
	L2VoiceID          string
	CounterpartVoiceID string
}

func (vc VoiceContext) counterpart() string {
	if vc.CounterpartVoiceID != "" {
		return vc.CounterpartVoiceID
	}
	return vc.L2VoiceID
}

type Result struct {
	Units                    []lessons.ScriptUnit
	EstimatedDurationSeconds float64
}

type Generator struct {
	text services.TextGenerator
	log  *logger.Logger
}

func NewGenerator(text services.TextGenerator, log *logger.Logger) *Generator {
	return &Generator{text: text, log: logger.OrNop(log).With("service", "ScriptGenerator")}
}

// Generate writes the full unit timeline for one lesson. Generation failures fall
// back to deterministic text; only context cancellation is returned.
func (g *Generator) Generate(ctx context.Context, plan lessons.LessonPlan, vc VoiceContext) (Result, error) {
	opening, err := runBatch(ctx, g, openingBatch, plan, vc)
	if err != nil {
		return Result{}, err
	}
	practice, err := runBatch(ctx, g, practiceBatch, plan, vc)
	if err != nil {
		return Result{}, err
	}
	closing, err := runBatch(ctx, g, closingBatch, plan, vc)
	if err != nil {
		return Result{}, err
	}

	b := &builder{vc: vc, pending: append([]lessons.DrillEvent(nil), plan.DrillEvents...)}
	b.marker(fmt.Sprintf("Lesson %d Start", plan.LessonNumber))
	for i, section := range plan.Sections {
		if i > 0 {
			b.dueDrills()
		}
		b.marker(section.Title)
		switch section.Type {
		case lessons.SectionIntro:
			b.narrate(opening.LessonIntro)
			b.pause(pauseSettle)
		case lessons.SectionCoreIntro:
			for j, item := range section.CoreItems {
				if j < len(opening.CoreItemIntros) {
					b.narrate(opening.CoreItemIntros[j])
				}
				b.pause(pauseTransition)
				b.teach(item)
			}
		case lessons.SectionEarlySRS:
			b.narrate(opening.EarlySRSIntro)
			b.pause(pauseTransition)
			for _, item := range section.CoreItems {
				b.review(item)
			}
		case lessons.SectionPhraseConstruction:
			b.narrate(practice.PhraseConstructionIntro)
			b.pause(pauseTransition)
			for _, item := range section.CoreItems {
				if item.HasComponents() {
					b.narrate(fmt.Sprintf("Let's build \"%s\" from the end.", item.TranslationL1))
					b.pause(pauseTransition)
					b.teach(item)
				}
			}
		case lessons.SectionDialogueIntegration:
			b.narrate(practice.DialogueIntegrationIntro)
			b.pause(pauseTransition)
			for _, item := range section.CoreItems {
				b.l2(item, speedNormal, vc.counterpart())
				b.pause(pauseSettle)
				b.narrate(fmt.Sprintf("That means \"%s\".", item.TranslationL1))
				b.pause(pauseTransition)
			}
		case lessons.SectionQA:
			for j, item := range section.CoreItems {
				if j < len(practice.QAScenarios) {
					b.narrate(practice.QAScenarios[j])
				}
				b.pause(pauseAnticipate)
				b.l2(item, speedNormal, vc.L2VoiceID)
				b.pause(pauseSettle)
			}
		case lessons.SectionRoleplay:
			b.narrate(closing.RoleplayIntro)
			b.pause(pauseTransition)
			b.roleplay(section.CoreItems)
		case lessons.SectionLateSRS:
			b.narrate(closing.LateSRSIntro)
			b.pause(pauseTransition)
			b.flushDrills()
			for _, item := range section.CoreItems {
				b.review(item)
			}
		case lessons.SectionOutro:
			b.narrate(closing.Outro)
		default:
			g.log.Warn("unknown section type, emitting marker only", "section", section.Type)
		}
	}
	b.flushDrills()
	b.marker(fmt.Sprintf("Lesson %d End", plan.LessonNumber))

	g.log.Debug("script generated", "lesson", plan.LessonNumber, "units", len(b.units), "estimated_seconds", b.elapsed)
	return Result{Units: b.units, EstimatedDurationSeconds: b.elapsed}, nil
}

// builder appends units and tracks the running estimated time used to place drills.
type builder struct {
	vc      VoiceContext
	units   []lessons.ScriptUnit
	elapsed float64
	pending []lessons.DrillEvent
	// items already heard in full at slow speed, by itemKey
	slow map[string]bool
}

func (b *builder) add(u lessons.ScriptUnit) {
	b.units = append(b.units, u)
	b.elapsed += EstimateUnitSeconds(u)
}

func (b *builder) marker(label string) { b.add(lessons.Marker{Label: label}) }

func (b *builder) pause(seconds float64) { b.add(lessons.Pause{Seconds: seconds}) }

func (b *builder) narrate(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	b.add(lessons.NarrationL1{Text: text, VoiceID: b.vc.NarratorVoiceID})
}

func (b *builder) l2(item lessons.CoreItem, speed float64, voiceID string) {
	if speed == speedSlow {
		if b.slow == nil {
			b.slow = map[string]bool{}
		}
		b.slow[itemKey(item)] = true
	}
	b.add(lessons.L2{Text: item.TextL2, Reading: item.ReadingL2, VoiceID: voiceID, Speed: speed})
}

func itemKey(item lessons.CoreItem) string {
	if item.ID != "" {
		return item.ID
	}
	return item.TextL2
}

func (b *builder) fragment(text string) {
	b.add(lessons.L2{Text: text, VoiceID: b.vc.L2VoiceID, Speed: speedSlow})
}

// teach introduces an item. Items with components are built backward from the
// trailing fragment before the full line is heard at both speeds.
func (b *builder) teach(item lessons.CoreItem) {
	if item.HasComponents() {
		sep := ""
		if strings.Contains(item.TextL2, " ") {
			sep = " "
		}
		for k := len(item.Components) - 1; k >= 1; k-- {
			b.fragment(strings.Join(item.Components[k:], sep))
			b.pause(pausePractice)
		}
		b.narrate("Now try the full phrase.")
		b.pause(pausePractice)
	}
	b.l2(item, speedNormal, b.vc.L2VoiceID)
	b.pause(pausePractice)
	b.l2(item, speedSlow, b.vc.L2VoiceID)
	b.pause(pausePractice)
}

// review recalls an item. Items past the core intro cap were never taught, so
// their first review also plays the slow line.
func (b *builder) review(item lessons.CoreItem) {
	b.narrate(fmt.Sprintf("\"%s\".", item.TranslationL1))
	b.pause(pauseAnticipate)
	b.l2(item, speedNormal, b.vc.L2VoiceID)
	b.pause(pauseSettle)
	if !b.slow[itemKey(item)] {
		b.narrate("Once more, slowly.")
		b.pause(pauseTransition)
		b.l2(item, speedSlow, b.vc.L2VoiceID)
		b.pause(pausePractice)
	}
}

func (b *builder) roleplay(items []lessons.CoreItem) {
	if len(items) < 2 {
		return
	}
	for i := 0; i+1 < len(items); i += 2 {
		learner, other := items[i], items[i+1]
		b.narrate("You start the conversation.")
		b.pause(pauseTransition)
		b.narrate(fmt.Sprintf("Say \"%s\".", learner.TranslationL1))
		b.pause(pauseAnticipate)
		b.l2(learner, speedNormal, b.vc.L2VoiceID)
		b.pause(pauseSettle)
		b.narrate("Good! Now they respond.")
		b.pause(pauseTransition)
		b.l2(other, speedNormal, b.vc.counterpart())
		b.pause(pausePractice)
	}
}

func (b *builder) drill(d lessons.DrillEvent) {
	format, ok := drillPrompts[d.DrillType]
	if !ok {
		format = drillPrompts[lessons.DrillRecall]
	}
	b.narrate(fmt.Sprintf(format, d.CoreItem.TranslationL1))
	b.pause(pauseAnticipate)
	b.l2(d.CoreItem, speedNormal, b.vc.L2VoiceID)
	b.pause(pauseSettle)
}

// dueDrills emits pending drills whose offset the script has reached. Pending is
// sorted by offset, so it stops at the first drill still in the future.
func (b *builder) dueDrills() {
	n := 0
	for n < len(b.pending) && float64(b.pending[n].TargetOffsetSeconds) <= b.elapsed {
		n++
	}
	for _, d := range b.pending[:n] {
		b.drill(d)
	}
	b.pending = b.pending[n:]
}

func (b *builder) flushDrills() {
	for _, d := range b.pending {
		b.drill(d)
	}
	b.pending = nil
}
