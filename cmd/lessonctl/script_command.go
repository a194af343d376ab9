package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/app"
	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/course/planner"
	"github.com/convolab/lessonaudio/internal/modules/voices"
)

func newScriptCommand(ctx *commandContext) *cobra.Command {
	var itemsPath string
	var lessonNumber int
	var outPath string
	var vf voiceFlags

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Generate the script units for one lesson without rendering audio",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readCoreItems(cmd, itemsPath)
			if err != nil {
				return err
			}
			cfg := ctx.config()
			cat, err := voices.Load(cfg.VoiceCatalogPath, cfg.TTSProvider)
			if err != nil {
				return err
			}
			vc, err := vf.resolve(cat)
			if err != nil {
				return err
			}

			tk, err := app.NewTextOnlyToolkit(ctx.logger(), cfg)
			if err != nil {
				return err
			}
			plan := planner.PlanCourse(in.CoreItems, in.EpisodeTitle, tk.PlanOpts)
			lesson, err := pickLesson(plan, lessonNumber)
			if err != nil {
				return err
			}
			res, err := tk.Script.Generate(cmd.Context(), lesson, vc)
			if err != nil {
				return err
			}
			raw, err := lessons.MarshalUnits(res.Units)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "lesson %d/%d: %d units, estimated %s\n",
				lesson.LessonNumber, len(plan.Lessons), len(res.Units), formatSeconds(res.EstimatedDurationSeconds))
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
				return err
			}
			return os.WriteFile(outPath, raw, 0o644)
		},
	}

	cmd.Flags().StringVarP(&itemsPath, "items", "i", "", "Core items JSON file (- for stdin)")
	cmd.Flags().IntVarP(&lessonNumber, "lesson", "n", 1, "Lesson number within the planned course")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write units JSON here instead of stdout")
	vf.register(cmd)
	_ = cmd.MarkFlagRequired("items")
	return cmd
}
