package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/course/planner"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var itemsPath string
	var title string
	var maxMinutes int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Split core items into lessons and show the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readCoreItems(cmd, itemsPath)
			if err != nil {
				return err
			}
			if title != "" {
				in.EpisodeTitle = title
			}
			if maxMinutes <= 0 {
				maxMinutes = ctx.config().LessonMaxMinutes
			}
			plan := planner.PlanCourse(in.CoreItems, in.EpisodeTitle, planner.Options{MaxLessonMinutes: maxMinutes})
			if jsonOut {
				return writeJSON(cmd, plan)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Lesson", "Title", "Items", "Sections", "Drills", "Estimated"},
				planRows(plan),
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%s core items across %s lesson(s)\n",
				humanize.Comma(int64(len(plan.TotalCoreItems))), humanize.Comma(int64(len(plan.Lessons))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&itemsPath, "items", "i", "", "Core items JSON file (- for stdin)")
	cmd.Flags().StringVar(&title, "title", "", "Episode title override")
	cmd.Flags().IntVar(&maxMinutes, "max-minutes", 0, "Maximum lesson length in minutes (default LESSON_MAX_MINUTES)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the course plan as JSON")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

func planRows(plan lessons.CoursePlan) [][]string {
	rows := make([][]string, 0, len(plan.Lessons))
	for _, l := range plan.Lessons {
		rows = append(rows, []string{
			strconv.Itoa(l.LessonNumber),
			l.Title,
			strconv.Itoa(len(l.CoreItems)),
			strconv.Itoa(len(l.Sections)),
			strconv.Itoa(len(l.DrillEvents)),
			formatSeconds(float64(l.TotalEstimatedDuration)),
		})
	}
	return rows
}
