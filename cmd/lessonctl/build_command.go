package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/app"
	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/course"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var itemsPath string
	var lessonID string
	var lessonNumber int
	var storage string
	var outDir string
	var scriptOut string
	var jsonOut bool
	var vf voiceFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Plan, script, synthesize and assemble one lesson",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readCoreItems(cmd, itemsPath)
			if err != nil {
				return err
			}
			cfg := ctx.config()
			cfg.AudioStorage = strings.ToLower(storage)
			if outDir != "" {
				cfg.LocalOutputDir = outDir
			}
			if lessonID == "" {
				lessonID = uuid.NewString()
			}

			return ctx.withToolkit(cmd.Context(), cfg, func(tk *app.Toolkit) error {
				vc, err := vf.resolve(tk.Voices)
				if err != nil {
					return err
				}
				bar := newProgressReporter(cmd.ErrOrStderr(), "Building lesson")
				res, err := tk.Lessons.BuildLesson(cmd.Context(), course.LessonRequest{
					LessonID:     lessonID,
					EpisodeTitle: in.EpisodeTitle,
					CoreItems:    in.CoreItems,
					LessonNumber: lessonNumber,
					Voices:       vc,
					OnProgress:   bar.Func(),
				})
				bar.Finish()
				if err != nil {
					return err
				}

				if scriptOut != "" {
					raw, err := lessons.MarshalUnits(res.Script.Units)
					if err != nil {
						return err
					}
					if err := os.WriteFile(scriptOut, raw, 0o644); err != nil {
						return err
					}
				}
				if jsonOut {
					return writeJSON(cmd, buildSummary(lessonID, res))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, buildRows(lessonID, res), nil))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&itemsPath, "items", "i", "", "Core items JSON file (- for stdin)")
	cmd.Flags().StringVar(&lessonID, "lesson-id", "", "Lesson id used in the output file name (default random)")
	cmd.Flags().IntVarP(&lessonNumber, "lesson", "n", 1, "Lesson number within the planned course")
	cmd.Flags().StringVar(&storage, "storage", app.StorageLocal, "Audio storage backend (local or gcs)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Local output directory (default AUDIO_LOCAL_DIR)")
	cmd.Flags().StringVar(&scriptOut, "script-out", "", "Also write the script units JSON to this file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	vf.register(cmd)
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

type lessonSummary struct {
	LessonID                 string                `json:"lessonId"`
	LessonNumber             int                   `json:"lessonNumber"`
	LessonCount              int                   `json:"lessonCount"`
	Title                    string                `json:"title"`
	AudioURL                 string                `json:"audioUrl"`
	ActualDurationSeconds    float64               `json:"actualDurationSeconds"`
	EstimatedDurationSeconds float64               `json:"estimatedDurationSeconds"`
	Units                    int                   `json:"units"`
	TimingData               []lessons.TimingEntry `json:"timingData"`
}

func buildSummary(lessonID string, res course.LessonResult) lessonSummary {
	return lessonSummary{
		LessonID:                 lessonID,
		LessonNumber:             res.Plan.LessonNumber,
		LessonCount:              res.LessonCount,
		Title:                    res.Plan.Title,
		AudioURL:                 res.Audio.AudioURL,
		ActualDurationSeconds:    res.Audio.ActualDurationSeconds,
		EstimatedDurationSeconds: res.Script.EstimatedDurationSeconds,
		Units:                    len(res.Script.Units),
		TimingData:               res.Audio.TimingData,
	}
}

func buildRows(lessonID string, res course.LessonResult) [][]string {
	return [][]string{
		{"Lesson", fmt.Sprintf("%d of %d", res.Plan.LessonNumber, res.LessonCount)},
		{"Lesson ID", lessonID},
		{"Title", res.Plan.Title},
		{"Script units", strconv.Itoa(len(res.Script.Units))},
		{"Estimated", formatSeconds(res.Script.EstimatedDurationSeconds)},
		{"Actual", formatSeconds(res.Audio.ActualDurationSeconds)},
		{"Audio", res.Audio.AudioURL},
	}
}
