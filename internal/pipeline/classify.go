package pipeline

import (
	"errors"

	"github.com/ashita-ai/koe/internal/model"
)

// stageCodes maps a failing stage to its taxonomy code. A stage timeout is
// treated identically to any other failure of that stage.
var stageCodes = map[model.Stage]string{
	model.StageTranscription: model.ErrCodeSTTFailed,
	model.StageReply:         model.ErrCodeLLMFailed,
	model.StageSynthesis:     model.ErrCodeTTSFailed,
}

var stageMessages = map[model.Stage]string{
	model.StageTranscription: "transcription failed",
	model.StageReply:         "reply generation failed",
	model.StageSynthesis:     "speech synthesis failed",
}

// stageError wraps a collaborator failure in the failing stage's taxonomy
// code. The kind comes from which stage failed — never from inspecting the
// failure's message text.
func stageError(stage model.Stage, err error) *model.PipelineError {
	return &model.PipelineError{
		Code:    stageCodes[stage],
		Message: stageMessages[stage],
		Cause:   err,
	}
}

// Classify normalizes any pipeline failure to a *model.PipelineError.
// Already-classified errors pass through unchanged; anything else maps to
// the internal code.
func Classify(err error) *model.PipelineError {
	var pe *model.PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &model.PipelineError{
		Code:    model.ErrCodeInternal,
		Message: "internal pipeline failure",
		Cause:   err,
	}
}
