package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is a position in the processing state machine.
type Stage uint8

const (
	StageIngest Stage = iota
	StageExtract
	StageNormalize
	StageMetadata
	StageStorage
	StageTrigger
	StageComplete
	StageError

	stageCount
)

// Pseudo-stages used only as log entry labels.
const (
	LogStagePipeline = "PIPELINE"
	LogStageComplete = "COMPLETE"
)

var stageNames = [stageCount]string{
	StageIngest:    "INGEST",
	StageExtract:   "EXTRACT",
	StageNormalize: "NORMALIZE",
	StageMetadata:  "METADATA",
	StageStorage:   "STORAGE",
	StageTrigger:   "TRIGGER",
	StageComplete:  "COMPLETE",
	StageError:     "ERROR",
}

// nextStage is the forward edge of every non-terminal stage. Terminal stages
// map to themselves and are never advanced.
var nextStage = [stageCount]Stage{
	StageIngest:    StageExtract,
	StageExtract:   StageNormalize,
	StageNormalize: StageMetadata,
	StageMetadata:  StageStorage,
	StageStorage:   StageTrigger,
	StageTrigger:   StageComplete,
	StageComplete:  StageComplete,
	StageError:     StageError,
}

// PipelineStages lists the executable stages in canonical order.
var PipelineStages = [...]Stage{
	StageIngest,
	StageExtract,
	StageNormalize,
	StageMetadata,
	StageStorage,
	StageTrigger,
}

func (s Stage) String() string {
	if s >= stageCount {
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
	return stageNames[s]
}

func (s Stage) Valid() bool { return s < stageCount }

func (s Stage) Terminal() bool { return s == StageComplete || s == StageError }

// Executable reports whether a stage executor exists for s.
func (s Stage) Executable() bool { return s < StageComplete }

// Next returns the stage that follows s on success.
func (s Stage) Next() Stage {
	if !s.Valid() {
		return StageError
	}
	return nextStage[s]
}

// Index returns the position of s in PipelineStages, or -1.
func (s Stage) Index() int {
	if !s.Executable() {
		return -1
	}
	return int(s)
}

// CanTransition reports whether the state machine allows from -> to.
// ERROR is reachable from every non-terminal stage.
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StageError {
		return true
	}
	return nextStage[from] == to
}

func ParseStage(raw string) (Stage, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for i, candidate := range stageNames {
		if candidate == name {
			return Stage(i), nil
		}
	}
	return 0, WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", raw))
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal stage: invalid value %d", uint8(s))
	}
	return []byte(stageNames[s]), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StageTiming is the elapsed wall time of one fully completed stage.
type StageTiming struct {
	Stage     Stage
	ElapsedMS int64
}

// StageTimings is an insertion-ordered stage -> elapsed ms mapping. Keys are
// always a prefix of PipelineStages.
type StageTimings []StageTiming

// Record appends the timing for stage, which must be the next stage in
// canonical order.
func (t *StageTimings) Record(stage Stage, elapsedMS int64) error {
	idx := len(*t)
	if idx >= len(PipelineStages) || PipelineStages[idx] != stage {
		return WrapError(ErrInvalidTransition, "record stage timing",
			fmt.Errorf("stage %s out of order after %d completed stages", stage, idx))
	}
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	*t = append(*t, StageTiming{Stage: stage, ElapsedMS: elapsedMS})
	return nil
}

func (t StageTimings) Get(stage Stage) (int64, bool) {
	for _, timing := range t {
		if timing.Stage == stage {
			return timing.ElapsedMS, true
		}
	}
	return 0, false
}

func (t StageTimings) Stages() []Stage {
	out := make([]Stage, 0, len(t))
	for _, timing := range t {
		out = append(out, timing.Stage)
	}
	return out
}

func (t StageTimings) Total() int64 {
	var total int64
	for _, timing := range t {
		total += timing.ElapsedMS
	}
	return total
}

// MarshalJSON renders an object whose keys keep canonical stage order.
func (t StageTimings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, timing := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%d", timing.Stage.String(), timing.ElapsedMS)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *StageTimings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode stage timings: %w", err)
	}
	if tok == nil {
		*t = StageTimings{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode stage timings: expected object")
	}

	out := StageTimings{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode stage timings key: %w", err)
		}
		key, _ := keyTok.(string)
		stage, err := ParseStage(key)
		if err != nil {
			return err
		}
		var elapsed int64
		if err := dec.Decode(&elapsed); err != nil {
			return fmt.Errorf("decode stage timing %s: %w", key, err)
		}
		if err := out.Record(stage, elapsed); err != nil {
			return err
		}
	}
	*t = out
	return nil
}
