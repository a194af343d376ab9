package lessons

import (
	"encoding/json"
	"fmt"
)

// ScriptUnit is one atomic timeline instruction. The set of variants is closed:
// NarrationL1, L2, Pause and Marker. Consumers must switch over all of them and
// treat anything else as an error.
type ScriptUnit interface {
	Kind() UnitKind
	isScriptUnit()
}

type UnitKind string

const (
	KindNarrationL1 UnitKind = "narration_L1"
	KindL2          UnitKind = "L2"
	KindPause       UnitKind = "pause"
	KindMarker      UnitKind = "marker"
)

type NarrationL1 struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

type L2 struct {
	Text    string  `json:"text"`
	Reading string  `json:"reading,omitempty"`
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed,omitempty"`
}

type Pause struct {
	Seconds float64 `json:"seconds"`
}

// Marker is structural only and never produces audio.
type Marker struct {
	Label string `json:"label"`
}

func (NarrationL1) Kind() UnitKind { return KindNarrationL1 }
func (L2) Kind() UnitKind          { return KindL2 }
func (Pause) Kind() UnitKind       { return KindPause }
func (Marker) Kind() UnitKind      { return KindMarker }

func (NarrationL1) isScriptUnit() {}
func (L2) isScriptUnit()          {}
func (Pause) isScriptUnit()       {}
func (Marker) isScriptUnit()      {}

// EffectiveSpeed returns the playback speed, treating zero as normal speed.
func (u L2) EffectiveSpeed() float64 {
	if u.Speed <= 0 {
		return 1.0
	}
	return u.Speed
}

// UnknownUnitError is returned by consumers that meet a variant they do not handle.
type UnknownUnitError struct {
	Index int
	Unit  ScriptUnit
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown script unit at index %d: %T", e.Index, e.Unit)
}

type unitEnvelope struct {
	Type    UnitKind `json:"type"`
	Text    string   `json:"text,omitempty"`
	Reading string   `json:"reading,omitempty"`
	VoiceID string   `json:"voiceId,omitempty"`
	Speed   float64  `json:"speed,omitempty"`
	Seconds float64  `json:"seconds,omitempty"`
	Label   string   `json:"label,omitempty"`
}

// MarshalUnits encodes units with a "type" discriminator.
func MarshalUnits(units []ScriptUnit) ([]byte, error) {
	out := make([]unitEnvelope, 0, len(units))
	for i, u := range units {
		switch v := u.(type) {
		case NarrationL1:
			out = append(out, unitEnvelope{Type: KindNarrationL1, Text: v.Text, VoiceID: v.VoiceID})
		case L2:
			out = append(out, unitEnvelope{Type: KindL2, Text: v.Text, Reading: v.Reading, VoiceID: v.VoiceID, Speed: v.Speed})
		case Pause:
			out = append(out, unitEnvelope{Type: KindPause, Seconds: v.Seconds})
		case Marker:
			out = append(out, unitEnvelope{Type: KindMarker, Label: v.Label})
		default:
			return nil, &UnknownUnitError{Index: i, Unit: u}
		}
	}
	return json.Marshal(out)
}

// UnmarshalUnits decodes the output of MarshalUnits.
func UnmarshalUnits(raw []byte) ([]ScriptUnit, error) {
	var in []unitEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode script units: %w", err)
	}
	out := make([]ScriptUnit, 0, len(in))
	for i, e := range in {
		switch e.Type {
		case KindNarrationL1:
			out = append(out, NarrationL1{Text: e.Text, VoiceID: e.VoiceID})
		case KindL2:
			out = append(out, L2{Text: e.Text, Reading: e.Reading, VoiceID: e.VoiceID, Speed: e.Speed})
		case KindPause:
			out = append(out, Pause{Seconds: e.Seconds})
		case KindMarker:
			out = append(out, Marker{Label: e.Label})
		default:
			return nil, fmt.Errorf("decode script units: index %d: unknown type %q", i, e.Type)
		}
	}
	return out, nil
}
