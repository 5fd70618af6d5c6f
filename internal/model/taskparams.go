package model

import "encoding/json"

// ReencodeParameters carries the REENCODE task's worker-defined shape. The
// source leaves this effectively opaque; no fields are mandated.
type ReencodeParameters struct{}

// TranscribeParameters are the parameters every TRANSCRIBE task carries.
type TranscribeParameters struct {
	Model string `json:"model"`
	Lang  string `json:"lang"`
}

// SpeakerIdentificationParameters carries the optional requested speaker count.
type SpeakerIdentificationParameters struct {
	NumberOfSpeakers *int `json:"number_of_speakers,omitempty"`
}

// ExportParameters carries worker-defined export options (output format, etc).
type ExportParameters struct {
	Format string          `json:"format,omitempty"`
	Extra  json.RawMessage `json:"-"`
}

// UnknownParameters is the fallback case for a task_type the coordinator
// does not recognise, carrying the raw parameters through unexamined so a
// new worker type can be deployed before the coordinator knows its schema.
type UnknownParameters struct {
	Type string
	Raw  json.RawMessage
}

// TaskParameters decodes a task's opaque task_parameters JSON into the typed
// view matching its task_type, falling back to UnknownParameters.
func TaskParameters(taskType string, raw json.RawMessage) (interface{}, error) {
	switch TaskType(taskType) {
	case TaskReencode:
		var p ReencodeParameters
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	case TaskTranscribe:
		var p TranscribeParameters
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TaskIdentifySpeakers:
		var p SpeakerIdentificationParameters
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	case TaskExport:
		var p ExportParameters
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return UnknownParameters{Type: taskType, Raw: raw}, nil
	}
}
