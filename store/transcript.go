package store

import (
	"encoding/json"

	"github.com/agentplexus/voiceagent"
)

func marshalTranscript(lines []voiceagent.TranscriptLine) (string, error) {
	if lines == nil {
		lines = []voiceagent.TranscriptLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalTranscript(raw string) ([]voiceagent.TranscriptLine, error) {
	if raw == "" {
		return nil, nil
	}
	var lines []voiceagent.TranscriptLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}
