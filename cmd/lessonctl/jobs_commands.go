package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	types "github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/jobs/pipeline/lesson_audio_build"
	"github.com/convolab/lessonaudio/internal/jobs/pipeline/narrow_listening_build"
	"github.com/convolab/lessonaudio/internal/pkg/dbctx"
	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/redis"
	"github.com/convolab/lessonaudio/internal/services"
)

// localOwner is used when neither --owner nor LESSONCTL_OWNER_ID is given.
var localOwner = uuid.NewSHA1(uuid.NameSpaceOID, []byte("lessonctl"))

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var owner string

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Queue and inspect worker jobs",
	}
	jobsCmd.PersistentFlags().StringVar(&owner, "owner", "", "Owner user id (default LESSONCTL_OWNER_ID or a fixed local id)")
	ownerID := func() (uuid.UUID, error) { return resolveOwner(owner) }

	jobsCmd.AddCommand(newJobsEnqueueCommand(ctx, ownerID))
	jobsCmd.AddCommand(newJobsStatusCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx, ownerID))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx, &owner))
	return jobsCmd
}

func resolveOwner(flag string) (uuid.UUID, error) {
	raw := strings.TrimSpace(flag)
	if raw == "" {
		raw = envutil.String("LESSONCTL_OWNER_ID", "")
	}
	if raw == "" {
		return localOwner, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid owner id %q: %w", raw, err)
	}
	return id, nil
}

func newJobsEnqueueCommand(ctx *commandContext, ownerID func() (uuid.UUID, error)) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a lesson or narrow listening build for the worker",
	}

	var itemsPath, lessonID string
	var lessonNumber int
	var vf voiceFlags
	lessonCmd := &cobra.Command{
		Use:   "lesson",
		Short: "Queue a lesson audio build",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readCoreItems(cmd, itemsPath)
			if err != nil {
				return err
			}
			if vf.target == "" {
				return errors.New("--target is required")
			}
			if lessonID == "" {
				lessonID = uuid.NewString()
			}
			return enqueue(cmd, ctx, ownerID, lesson_audio_build.JobType, "lesson", lessonID, lesson_audio_build.Payload{
				LessonID:           lessonID,
				EpisodeTitle:       in.EpisodeTitle,
				CoreItems:          in.CoreItems,
				TargetLanguage:     vf.target,
				NativeLanguage:     vf.native,
				LessonNumber:       lessonNumber,
				NarratorVoiceID:    vf.narrator,
				L2VoiceID:          vf.l2,
				CounterpartVoiceID: vf.counterpart,
			})
		},
	}
	lessonCmd.Flags().StringVarP(&itemsPath, "items", "i", "", "Core items JSON file (- for stdin)")
	lessonCmd.Flags().StringVar(&lessonID, "lesson-id", "", "Lesson id (default random)")
	lessonCmd.Flags().IntVarP(&lessonNumber, "lesson", "n", 1, "Lesson number within the planned course")
	vf.register(lessonCmd)
	_ = lessonCmd.MarkFlagRequired("items")

	var segmentsPath, packID, language string
	var variant int
	var speeds []float64
	var assignments []string
	narrowCmd := &cobra.Command{
		Use:   "narrow",
		Short: "Queue a narrow listening pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readSegments(cmd, segmentsPath)
			if err != nil {
				return err
			}
			if packID != "" {
				in.PackID = packID
			}
			if in.PackID == "" {
				in.PackID = uuid.NewString()
			}
			if language != "" {
				in.Language = language
			}
			return enqueue(cmd, ctx, ownerID, narrow_listening_build.JobType, "narrow_pack", in.PackID, narrow_listening_build.Payload{
				PackID:           in.PackID,
				Segments:         in.Segments,
				Language:         in.Language,
				VariantIndex:     variant,
				VoiceAssignments: assignments,
				Speeds:           speeds,
			})
		},
	}
	narrowCmd.Flags().StringVarP(&segmentsPath, "segments", "s", "", "Segments JSON file (- for stdin)")
	narrowCmd.Flags().StringVar(&packID, "pack-id", "", "Pack id (default random)")
	narrowCmd.Flags().StringVarP(&language, "language", "l", "", "Language code of the segments")
	narrowCmd.Flags().IntVar(&variant, "variant", 0, "Variant index within the pack")
	narrowCmd.Flags().Float64SliceVar(&speeds, "speeds", nil, "Playback speeds (default 0.7,0.85,1.0)")
	narrowCmd.Flags().StringSliceVar(&assignments, "voices", nil, "Explicit voice id per segment")
	_ = narrowCmd.MarkFlagRequired("segments")

	enqueueCmd.AddCommand(lessonCmd, narrowCmd)
	return enqueueCmd
}

func enqueue(cmd *cobra.Command, ctx *commandContext, ownerID func() (uuid.UUID, error), jobType, entityType, entityKey string, payload any) error {
	owner, err := ownerID()
	if err != nil {
		return err
	}
	return ctx.withJobs(func(s *jobStore) error {
		job, err := s.jobs.Enqueue(dbctx.Context{Ctx: cmd.Context()}, services.EnqueueRequest{
			OwnerUserID: owner,
			JobType:     jobType,
			EntityType:  entityType,
			EntityKey:   entityKey,
			Payload:     payload,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s (%s %s)\n", job.JobType, job.ID, entityType, entityKey)
		return nil
	})
}

func parseJobID(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, errors.New("exactly one job id is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return id, nil
}

func newJobsStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args)
			if err != nil {
				return err
			}
			return ctx.withJobs(func(s *jobStore) error {
				dbc := dbctx.Context{Ctx: cmd.Context()}
				job, err := s.jobs.Get(dbc, id)
				if err != nil {
					return err
				}
				events, err := s.jobs.Events(dbc, id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, struct {
						Job    *types.JobRun        `json:"job"`
						Events []*types.JobRunEvent `json:"events"`
					}{job, events})
				}
				now := time.Now()
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, jobDetailRows(job, now), nil))
				if len(events) > 0 {
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"When", "Event", "Stage", "Progress", "Attempt", "Message"},
						jobEventRows(events, now),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the job row and its timeline as JSON")
	return cmd
}

func newJobsListCommand(ctx *commandContext, ownerID func() (uuid.UUID, error)) *cobra.Command {
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := uuid.Nil
			if !all {
				var err error
				if owner, err = ownerID(); err != nil {
					return err
				}
			}
			return ctx.withJobs(func(s *jobStore) error {
				rows, err := s.repo.ListRecent(dbctx.Context{Ctx: cmd.Context()}, owner, limit)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Entity", "Status", "Stage", "Progress", "Created"},
					jobListRows(rows, time.Now()),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	cmd.Flags().BoolVar(&all, "all", false, "Include jobs of every owner")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args)
			if err != nil {
				return err
			}
			return ctx.withJobs(func(s *jobStore) error {
				job, err := s.jobs.Cancel(dbctx.Context{Ctx: cmd.Context()}, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobsWatchCommand(ctx *commandContext, owner *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream job events from Redis until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := ""
			if !all {
				id, err := resolveOwner(*owner)
				if err != nil {
					return err
				}
				channel = id.String()
			}
			bus, err := redis.NewJobEventBus(ctx.logger())
			if err != nil {
				return err
			}
			defer bus.Close()

			out := cmd.OutOrStdout()
			err = bus.StartForwarder(cmd.Context(), channel, func(ev services.JobEvent) {
				fmt.Fprintln(out, formatJobEvent(time.Now(), ev))
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Watching job events (Ctrl-C to stop)")
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Follow every owner")
	return cmd
}

func formatJobEvent(now time.Time, ev services.JobEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-11s %v %v", now.Format("15:04:05"), ev.Event, ev.Data["job_type"], ev.Data["job_id"])
	if stage, ok := ev.Data["stage"]; ok {
		fmt.Fprintf(&b, " stage=%v", stage)
	}
	if p, ok := ev.Data["progress"]; ok {
		fmt.Fprintf(&b, " %v%%", p)
	}
	if msg, ok := ev.Data["message"]; ok && msg != "" {
		fmt.Fprintf(&b, " %v", msg)
	}
	if e, ok := ev.Data["error"]; ok && e != "" {
		fmt.Fprintf(&b, " error=%v", e)
	}
	return b.String()
}

func jobListRows(rows []*types.JobRun, now time.Time) [][]string {
	out := make([][]string, 0, len(rows))
	for _, j := range rows {
		out = append(out, []string{
			j.ID.String(),
			j.JobType,
			j.EntityKey,
			j.Status,
			j.Stage,
			strconv.Itoa(j.Progress) + "%",
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
		})
	}
	return out
}

func jobDetailRows(j *types.JobRun, now time.Time) [][]string {
	rows := [][]string{
		{"ID", j.ID.String()},
		{"Type", j.JobType},
		{"Entity", strings.TrimSpace(j.EntityType + " " + j.EntityKey)},
		{"Status", j.Status},
		{"Stage", j.Stage},
		{"Progress", strconv.Itoa(j.Progress) + "%"},
		{"Attempts", strconv.Itoa(j.Attempts)},
		{"Created", humanize.RelTime(j.CreatedAt, now, "ago", "from now")},
		{"Updated", humanize.RelTime(j.UpdatedAt, now, "ago", "from now")},
	}
	if j.Message != "" {
		rows = append(rows, []string{"Message", j.Message})
	}
	if j.Error != "" {
		rows = append(rows, []string{"Error", j.Error})
	}
	if len(j.Result) > 2 {
		rows = append(rows, []string{"Result", string(j.Result)})
	}
	return rows
}

func jobEventRows(events []*types.JobRunEvent, now time.Time) [][]string {
	out := make([][]string, 0, len(events))
	for _, ev := range events {
		out = append(out, []string{
			humanize.RelTime(ev.CreatedAt, now, "ago", "from now"),
			ev.Kind,
			ev.Stage,
			strconv.Itoa(ev.Progress) + "%",
			strconv.Itoa(ev.Attempt),
			ev.Message,
		})
	}
	return out
}
