package script

import (
	"fmt"
	"strings"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
)

type openingContent struct {
	LessonIntro    string   `json:"lessonIntro"`
	CoreItemIntros []string `json:"coreItemIntros"`
	EarlySRSIntro  string   `json:"earlySRSIntro"`
}

type practiceContent struct {
	PhraseConstructionIntro  string   `json:"phraseConstructionIntro"`
	DialogueIntegrationIntro string   `json:"dialogueIntegrationIntro"`
	QAScenarios              []string `json:"qaScenarios"`
}

type closingContent struct {
	RoleplayIntro string `json:"roleplayIntro"`
	LateSRSIntro  string `json:"lateSRSIntro"`
	Outro         string `json:"outro"`
}

func systemInstruction(vc VoiceContext) string {
	return fmt.Sprintf(
		"You write narration for audio-only %s lessons taught in %s. "+
			"Narration is spoken by a friendly teacher in %s. Keep every line short and natural to say aloud. "+
			"Never include stage directions or markdown. Respond with JSON only.",
		languageName(vc.TargetLanguage), languageName(vc.NativeLanguage), languageName(vc.NativeLanguage),
	)
}

var openingBatch = batch[openingContent]{
	name:     "opening",
	sections: []lessons.SectionType{lessons.SectionIntro, lessons.SectionCoreIntro, lessons.SectionEarlySRS},
	schema:   `{"lessonIntro": string, "coreItemIntros": [string, one per new phrase in order], "earlySRSIntro": string}`,
	prompt: func(plan lessons.LessonPlan, vc VoiceContext) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Lesson %d: %s\n", plan.LessonNumber, plan.Title)
		b.WriteString("Write a welcoming lesson introduction (lessonIntro), a one-sentence setup for each new phrase ")
		b.WriteString("that tells the learner what it means before they hear it (coreItemIntros), and a short ")
		b.WriteString("transition into the first review (earlySRSIntro).\n\nNew phrases:\n")
		writeItems(&b, sectionItems(plan, lessons.SectionCoreIntro))
		return b.String()
	},
	fallback: func(plan lessons.LessonPlan) openingContent {
		items := sectionItems(plan, lessons.SectionCoreIntro)
		intros := make([]string, len(items))
		for i, it := range items {
			intros[i] = fmt.Sprintf("Here is how to say \"%s\".", it.TranslationL1)
		}
		return openingContent{
			LessonIntro:    fmt.Sprintf("%s. Welcome to %s.", sectionTitle(plan, lessons.SectionIntro), plan.Title),
			CoreItemIntros: intros,
			EarlySRSIntro:  fmt.Sprintf("%s. Let's practice what you just heard.", sectionTitle(plan, lessons.SectionEarlySRS)),
		}
	},
	fill: func(got *openingContent, fb openingContent) {
		got.LessonIntro = orFallback(got.LessonIntro, fb.LessonIntro)
		got.CoreItemIntros = alignTo(got.CoreItemIntros, fb.CoreItemIntros)
		got.EarlySRSIntro = orFallback(got.EarlySRSIntro, fb.EarlySRSIntro)
	},
}

var practiceBatch = batch[practiceContent]{
	name: "practice",
	sections: []lessons.SectionType{
		lessons.SectionPhraseConstruction,
		lessons.SectionDialogueIntegration,
		lessons.SectionQA,
	},
	schema: `{"phraseConstructionIntro": string, "dialogueIntegrationIntro": string, "qaScenarios": [string, one per phrase in order]}`,
	prompt: func(plan lessons.LessonPlan, vc VoiceContext) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Lesson %d: %s\n", plan.LessonNumber, plan.Title)
		b.WriteString("Write a short intro to building longer phrases (phraseConstructionIntro), a short intro to ")
		b.WriteString("hearing the phrases inside a conversation (dialogueIntegrationIntro), and for each phrase a ")
		b.WriteString("one-sentence situation that ends by asking the learner what they would say (qaScenarios).\n\nPhrases:\n")
		writeItems(&b, sectionItems(plan, lessons.SectionQA))
		return b.String()
	},
	fallback: func(plan lessons.LessonPlan) practiceContent {
		items := sectionItems(plan, lessons.SectionQA)
		qa := make([]string, len(items))
		for i, it := range items {
			qa[i] = fmt.Sprintf("Someone needs you to say \"%s\". What do you say?", it.TranslationL1)
		}
		return practiceContent{
			PhraseConstructionIntro:  fmt.Sprintf("%s. Now let's put the pieces together.", sectionTitle(plan, lessons.SectionPhraseConstruction)),
			DialogueIntegrationIntro: fmt.Sprintf("%s. Listen to these phrases in a conversation.", sectionTitle(plan, lessons.SectionDialogueIntegration)),
			QAScenarios:              qa,
		}
	},
	fill: func(got *practiceContent, fb practiceContent) {
		got.PhraseConstructionIntro = orFallback(got.PhraseConstructionIntro, fb.PhraseConstructionIntro)
		got.DialogueIntegrationIntro = orFallback(got.DialogueIntegrationIntro, fb.DialogueIntegrationIntro)
		got.QAScenarios = alignTo(got.QAScenarios, fb.QAScenarios)
	},
}

var closingBatch = batch[closingContent]{
	name:     "closing",
	sections: []lessons.SectionType{lessons.SectionRoleplay, lessons.SectionLateSRS, lessons.SectionOutro},
	schema:   `{"roleplayIntro": string, "lateSRSIntro": string, "outro": string}`,
	prompt: func(plan lessons.LessonPlan, vc VoiceContext) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Lesson %d: %s\n", plan.LessonNumber, plan.Title)
		b.WriteString("Write a short setup for a role-play conversation using the phrases (roleplayIntro), a ")
		b.WriteString("transition into the final review (lateSRSIntro), and an encouraging closing (outro).\n\nPhrases:\n")
		writeItems(&b, plan.CoreItems)
		return b.String()
	},
	fallback: func(plan lessons.LessonPlan) closingContent {
		return closingContent{
			RoleplayIntro: fmt.Sprintf("%s. Time to use these phrases in a conversation.", sectionTitle(plan, lessons.SectionRoleplay)),
			LateSRSIntro:  fmt.Sprintf("%s. Let's review everything from this lesson.", sectionTitle(plan, lessons.SectionLateSRS)),
			Outro:         fmt.Sprintf("%s. Great work finishing %s.", sectionTitle(plan, lessons.SectionOutro), plan.Title),
		}
	},
	fill: func(got *closingContent, fb closingContent) {
		got.RoleplayIntro = orFallback(got.RoleplayIntro, fb.RoleplayIntro)
		got.LateSRSIntro = orFallback(got.LateSRSIntro, fb.LateSRSIntro)
		got.Outro = orFallback(got.Outro, fb.Outro)
	},
}

func writeItems(b *strings.Builder, items []lessons.CoreItem) {
	if len(items) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for i, it := range items {
		fmt.Fprintf(b, "%d. %s = %q", i+1, it.TextL2, it.TranslationL1)
		if it.ReadingL2 != "" {
			fmt.Fprintf(b, " (reading: %s)", it.ReadingL2)
		}
		b.WriteString("\n")
	}
}

func sectionItems(plan lessons.LessonPlan, t lessons.SectionType) []lessons.CoreItem {
	s, ok := plan.Section(t)
	if !ok {
		return nil
	}
	return s.CoreItems
}

func sectionTitle(plan lessons.LessonPlan, t lessons.SectionType) string {
	if s, ok := plan.Section(t); ok && strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return strings.ReplaceAll(string(t), "_", " ")
}

var languageNames = map[string]string{
	"en": "English",
	"ja": "Japanese",
	"zh": "Mandarin Chinese",
	"es": "Spanish",
	"fr": "French",
	"ar": "Arabic",
	"he": "Hebrew",
	"ru": "Russian",
	"ko": "Korean",
	"de": "German",
}

func languageName(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(c, "-_"); i > 0 {
		c = c[:i]
	}
	if name, ok := languageNames[c]; ok {
		return name
	}
	if code == "" {
		return "the target language"
	}
	return code
}
