package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/modules/course/script"
	"github.com/convolab/lessonaudio/internal/modules/voices"
)

type voiceFlags struct {
	target      string
	native      string
	narrator    string
	l2          string
	counterpart string
}

func (f *voiceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.target, "target", "", "Target (L2) language code, e.g. ja")
	cmd.Flags().StringVar(&f.native, "native", "en", "Native (L1) language code")
	cmd.Flags().StringVar(&f.narrator, "narrator-voice", "", "Narrator voice id override")
	cmd.Flags().StringVar(&f.l2, "l2-voice", "", "L2 speaker voice id override")
	cmd.Flags().StringVar(&f.counterpart, "counterpart-voice", "", "Role-play counterpart voice id override")
}

// resolve picks catalog defaults for the language pair and applies overrides.
func (f *voiceFlags) resolve(cat *voices.Catalog) (script.VoiceContext, error) {
	if f.target == "" {
		return script.VoiceContext{}, errors.New("--target is required")
	}
	vc, err := cat.VoiceContext(f.target, f.native)
	if err != nil {
		return script.VoiceContext{}, err
	}
	if f.narrator != "" {
		vc.NarratorVoiceID = f.narrator
	}
	if f.l2 != "" {
		vc.L2VoiceID = f.l2
	}
	if f.counterpart != "" {
		vc.CounterpartVoiceID = f.counterpart
	}
	return vc, nil
}
