package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/app"
	"github.com/convolab/lessonaudio/internal/domain/lessons"
	"github.com/convolab/lessonaudio/internal/modules/narrowlistening"
)

func newNarrowCommand(ctx *commandContext) *cobra.Command {
	var segmentsPath string
	var packID string
	var language string
	var variant int
	var speeds []float64
	var assignments []string
	var storage string
	var outDir string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "narrow",
		Short: "Render a narrow listening variant at every speed",
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
			if in.Language == "" {
				return fmt.Errorf("--language is required when the segments file has none")
			}
			cfg := ctx.config()
			cfg.AudioStorage = strings.ToLower(storage)
			if outDir != "" {
				cfg.LocalOutputDir = outDir
			}

			return ctx.withToolkit(cmd.Context(), cfg, func(tk *app.Toolkit) error {
				var pool []lessons.Voice
				if len(assignments) == 0 {
					if pool, err = tk.Voices.Pool(in.Language); err != nil {
						return err
					}
				}
				bar := newProgressReporter(cmd.ErrOrStderr(), "Rendering pack")
				out, err := tk.Narrow.GeneratePack(cmd.Context(), narrowlistening.PackInput{
					PackID:           in.PackID,
					Segments:         in.Segments,
					VariantIndex:     variant,
					Language:         in.Language,
					VoiceAssignments: assignments,
					VoicePool:        pool,
					Speeds:           speeds,
					OnProgress:       bar.Func(),
				})
				bar.Finish()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, out)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Speed", "Segments", "Duration", "Audio"},
					packRows(out),
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintf(cmd.OutOrStdout(), "voices: %s\n", strings.Join(out.VoiceAssignments, ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&segmentsPath, "segments", "s", "", "Segments JSON file (- for stdin)")
	cmd.Flags().StringVar(&packID, "pack-id", "", "Pack id used in output file names")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language code of the segments")
	cmd.Flags().IntVar(&variant, "variant", 0, "Variant index within the pack")
	cmd.Flags().Float64SliceVar(&speeds, "speeds", nil, "Playback speeds (default 0.7,0.85,1.0)")
	cmd.Flags().StringSliceVar(&assignments, "voices", nil, "Explicit voice id per segment")
	cmd.Flags().StringVar(&storage, "storage", app.StorageLocal, "Audio storage backend (local or gcs)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Local output directory (default AUDIO_LOCAL_DIR)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the pack as JSON")
	_ = cmd.MarkFlagRequired("segments")
	return cmd
}

func packRows(out narrowlistening.PackOutput) [][]string {
	rows := make([][]string, 0, len(out.Variants))
	for _, v := range out.Variants {
		rows = append(rows, []string{
			narrowlistening.SpeedLabel(v.Speed),
			strconv.Itoa(len(v.Segments)),
			formatSeconds(float64(v.TotalDurationMs) / 1000),
			v.CombinedAudioURL,
		})
	}
	return rows
}
