package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/convolab/lessonaudio/internal/domain/lessons"
)

// readInput returns the file contents, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("input file is required")
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// coreItemsFile is the object form of an items file; a bare array is accepted too.
type coreItemsFile struct {
	EpisodeTitle string             `json:"episodeTitle"`
	CoreItems    []lessons.CoreItem `json:"coreItems"`
}

func readCoreItems(cmd *cobra.Command, path string) (coreItemsFile, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return coreItemsFile{}, err
	}
	var out coreItemsFile
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &out.CoreItems)
	} else {
		err = json.Unmarshal(raw, &out)
	}
	if err != nil {
		return coreItemsFile{}, fmt.Errorf("decode core items %s: %w", path, err)
	}
	if len(out.CoreItems) == 0 {
		return coreItemsFile{}, fmt.Errorf("%s contains no core items", path)
	}
	return out, nil
}

type segmentsFile struct {
	PackID   string                  `json:"packId"`
	Language string                  `json:"language"`
	Segments []lessons.NarrowSegment `json:"segments"`
}

func readSegments(cmd *cobra.Command, path string) (segmentsFile, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return segmentsFile{}, err
	}
	var out segmentsFile
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &out.Segments)
	} else {
		err = json.Unmarshal(raw, &out)
	}
	if err != nil {
		return segmentsFile{}, fmt.Errorf("decode segments %s: %w", path, err)
	}
	if len(out.Segments) == 0 {
		return segmentsFile{}, fmt.Errorf("%s contains no segments", path)
	}
	return out, nil
}

// pickLesson returns the 1-based lesson n of plan; zero selects the first.
func pickLesson(plan lessons.CoursePlan, n int) (lessons.LessonPlan, error) {
	if n <= 0 {
		n = 1
	}
	if n > len(plan.Lessons) {
		return lessons.LessonPlan{}, fmt.Errorf("lesson %d out of range (course has %d lessons)", n, len(plan.Lessons))
	}
	return plan.Lessons[n-1], nil
}
