package lessons

// CoreItem is one target-language phrase selected for spaced teaching.
// Items are immutable once extracted; the pipeline only reads them.
type CoreItem struct {
	ID              string   `json:"id"`
	TextL2          string   `json:"textL2"`
	TranslationL1   string   `json:"translationL1"`
	ReadingL2       string   `json:"readingL2,omitempty"`
	ComplexityScore float64  `json:"complexityScore"`
	Components      []string `json:"components,omitempty"` // ordered fragments for backward-build
	SourceIDs       []string `json:"sourceIds,omitempty"`
	Order           int      `json:"order"`
}

// HasComponents reports whether the item should be taught by backward-build.
func (c CoreItem) HasComponents() bool { return len(c.Components) > 1 }

type DrillType string

const (
	DrillRecall    DrillType = "recall"
	DrillTransform DrillType = "transform"
	DrillContext   DrillType = "context"
	DrillExpand    DrillType = "expand"
	DrillRoleplay  DrillType = "roleplay"
)

// DrillCycle is the order drill types are assigned across SRS intervals.
var DrillCycle = []DrillType{DrillRecall, DrillTransform, DrillContext, DrillExpand, DrillRoleplay}

type DrillEvent struct {
	ID                  string    `json:"id"`
	CoreItemID          string    `json:"coreItemId"`
	CoreItem            CoreItem  `json:"coreItem"`
	DrillType           DrillType `json:"drillType"`
	TargetOffsetSeconds int       `json:"targetOffsetSeconds"`
}

type SectionType string

const (
	SectionIntro               SectionType = "intro"
	SectionCoreIntro           SectionType = "core_intro"
	SectionEarlySRS            SectionType = "early_srs"
	SectionPhraseConstruction  SectionType = "phrase_construction"
	SectionDialogueIntegration SectionType = "dialogue_integration"
	SectionQA                  SectionType = "qa"
	SectionRoleplay            SectionType = "roleplay"
	SectionLateSRS             SectionType = "late_srs"
	SectionOutro               SectionType = "outro"
)

// SectionOrder is the canonical order every lesson is built in.
var SectionOrder = []SectionType{
	SectionIntro,
	SectionCoreIntro,
	SectionEarlySRS,
	SectionPhraseConstruction,
	SectionDialogueIntegration,
	SectionQA,
	SectionRoleplay,
	SectionLateSRS,
	SectionOutro,
}

type LessonSection struct {
	Type                  SectionType `json:"type"`
	Title                 string      `json:"title"`
	TargetDurationSeconds int         `json:"targetDurationSeconds"`
	CoreItems             []CoreItem  `json:"coreItems,omitempty"`
}

type LessonPlan struct {
	LessonNumber           int             `json:"lessonNumber"`
	Title                  string          `json:"title"`
	Sections               []LessonSection `json:"sections"`
	CoreItems              []CoreItem      `json:"coreItems"`
	TotalEstimatedDuration int             `json:"totalEstimatedDuration"`
	DrillEvents            []DrillEvent    `json:"drillEvents"`
}

// Section returns the first section of the given type.
func (p LessonPlan) Section(t SectionType) (LessonSection, bool) {
	for _, s := range p.Sections {
		if s.Type == t {
			return s, true
		}
	}
	return LessonSection{}, false
}

type CoursePlan struct {
	Lessons        []LessonPlan `json:"lessons"`
	TotalCoreItems []CoreItem   `json:"totalCoreItems"`
}

// TimingEntry places one script unit on the assembled timeline.
type TimingEntry struct {
	UnitIndex    int     `json:"unitIndex"`
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
}
