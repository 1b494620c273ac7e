// Package protocol implements the wire codec described in spec.md §4.4 and
// §6: a JSON, externally-tagged sum type for Request and Response values.
// A unit variant (no payload) is encoded as a bare JSON string holding its
// tag; a variant carrying data is encoded as a single-key JSON object whose
// key is the tag and whose value is the payload. This mirrors the default
// serde_json representation of a Rust enum, which the legacy client in
// original_source/ depends on byte-for-byte, so the tag names below MUST
// NOT change.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ikmb/qmanager/internal/job"
)

// Request tag names, preserved verbatim from spec.md §6.
const (
	TagSubmitJob        = "SubmitJob"
	TagRemoveJob        = "RemoveJob"
	TagKillJob          = "KillJob"
	TagGetQueuedJobs    = "GetQueuedJobs"
	TagGetFinishedJobs  = "GetFinishedJobs"
	TagSetQueueState    = "SetQueueState"
	TagGetQueueState    = "GetQueueState"
)

// Response tag names, preserved verbatim from spec.md §6.
const (
	TagGetJobs     = "GetJobs"
	TagGetJob      = "GetJob"
	TagError       = "Error"
	TagQueueState  = "QueueState"
	TagOk          = "Ok"
)

// ErrCodec is wrapped by Request.UnmarshalJSON (and Response.UnmarshalJSON)
// when the body is not a well-formed value; the dispatcher maps it onto the wire-level Error response
// described by spec.md §7 ("Codec" error kind).
var ErrCodec = fmt.Errorf("malformed request body")

// Request is the closed sum of all client-issued RPCs. Exactly one of the
// payload fields is meaningful, selected by Tag.
type Request struct {
	Tag        string
	Cmdline    string     // SubmitJob
	JobID      job.ID     // RemoveJob, KillJob
	QueueState job.QueueState // SetQueueState
}

func SubmitJobRequest(cmdline string) Request { return Request{Tag: TagSubmitJob, Cmdline: cmdline} }
func RemoveJobRequest(id job.ID) Request      { return Request{Tag: TagRemoveJob, JobID: id} }
func KillJobRequest(id job.ID) Request        { return Request{Tag: TagKillJob, JobID: id} }
func GetQueuedJobsRequest() Request           { return Request{Tag: TagGetQueuedJobs} }
func GetFinishedJobsRequest() Request         { return Request{Tag: TagGetFinishedJobs} }
func SetQueueStateRequest(s job.QueueState) Request {
	return Request{Tag: TagSetQueueState, QueueState: s}
}
func GetQueueStateRequest() Request { return Request{Tag: TagGetQueueState} }

// MarshalJSON encodes the request using the externally-tagged scheme
// described at package level.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Tag {
	case TagSubmitJob:
		return marshalTagged(r.Tag, r.Cmdline)
	case TagRemoveJob, TagKillJob:
		return marshalTagged(r.Tag, r.JobID)
	case TagSetQueueState:
		return marshalTagged(r.Tag, r.QueueState)
	case TagGetQueuedJobs, TagGetFinishedJobs, TagGetQueueState:
		return json.Marshal(r.Tag)
	default:
		return nil, fmt.Errorf("protocol: unknown request tag %q", r.Tag)
	}
}

// UnmarshalJSON decodes a request previously produced by MarshalJSON, or
// returns ErrCodec for anything else (unknown tag, wrong payload shape,
// malformed JSON).
func (r *Request) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		switch bare {
		case TagGetQueuedJobs, TagGetFinishedJobs, TagGetQueueState:
			*r = Request{Tag: bare}
			return nil
		default:
			return fmt.Errorf("%w: unknown unit request %q", ErrCodec, bare)
		}
	}

	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case TagSubmitJob:
		var cmdline string
		if err := json.Unmarshal(payload, &cmdline); err != nil {
			return fmt.Errorf("%w: SubmitJob payload: %v", ErrCodec, err)
		}
		*r = Request{Tag: tag, Cmdline: cmdline}
	case TagRemoveJob, TagKillJob:
		var id job.ID
		if err := json.Unmarshal(payload, &id); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrCodec, tag, err)
		}
		*r = Request{Tag: tag, JobID: id}
	case TagSetQueueState:
		var s job.QueueState
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("%w: SetQueueState payload: %v", ErrCodec, err)
		}
		*r = Request{Tag: tag, QueueState: s}
	default:
		return fmt.Errorf("%w: unknown request tag %q", ErrCodec, tag)
	}
	return nil
}

// Response is the closed sum of all server-issued replies.
type Response struct {
	Tag        string
	JobID      job.ID
	Jobs       []*job.Job
	Job        *job.Job
	ErrMessage string
	QueueState job.QueueState
}

func SubmitJobResponse(id job.ID) Response   { return Response{Tag: TagSubmitJob, JobID: id} }
func GetJobsResponse(jobs []*job.Job) Response {
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return Response{Tag: TagGetJobs, Jobs: jobs}
}
func GetJobResponse(j *job.Job) Response { return Response{Tag: TagGetJob, Job: j} }
func ErrorResponse(msg string) Response  { return Response{Tag: TagError, ErrMessage: msg} }
func QueueStateResponse(s job.QueueState) Response {
	return Response{Tag: TagQueueState, QueueState: s}
}
func OkResponse() Response { return Response{Tag: TagOk} }

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Tag {
	case TagSubmitJob:
		return marshalTagged(r.Tag, r.JobID)
	case TagGetJobs:
		jobs := r.Jobs
		if jobs == nil {
			jobs = []*job.Job{}
		}
		return marshalTagged(r.Tag, jobs)
	case TagGetJob:
		return marshalTagged(r.Tag, r.Job)
	case TagError:
		return marshalTagged(r.Tag, r.ErrMessage)
	case TagQueueState:
		return marshalTagged(r.Tag, r.QueueState)
	case TagOk:
		return json.Marshal(r.Tag)
	default:
		return nil, fmt.Errorf("protocol: unknown response tag %q", r.Tag)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare != TagOk {
			return fmt.Errorf("%w: unknown unit response %q", ErrCodec, bare)
		}
		*r = Response{Tag: TagOk}
		return nil
	}

	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case TagSubmitJob:
		var id job.ID
		if err := json.Unmarshal(payload, &id); err != nil {
			return fmt.Errorf("%w: SubmitJob payload: %v", ErrCodec, err)
		}
		*r = Response{Tag: tag, JobID: id}
	case TagGetJobs:
		var jobs []*job.Job
		if err := json.Unmarshal(payload, &jobs); err != nil {
			return fmt.Errorf("%w: GetJobs payload: %v", ErrCodec, err)
		}
		*r = Response{Tag: tag, Jobs: jobs}
	case TagGetJob:
		var j job.Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return fmt.Errorf("%w: GetJob payload: %v", ErrCodec, err)
		}
		*r = Response{Tag: tag, Job: &j}
	case TagError:
		var msg string
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: Error payload: %v", ErrCodec, err)
		}
		*r = Response{Tag: tag, ErrMessage: msg}
	case TagQueueState:
		var s job.QueueState
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("%w: QueueState payload: %v", ErrCodec, err)
		}
		*r = Response{Tag: tag, QueueState: s}
	default:
		return fmt.Errorf("%w: unknown response tag %q", ErrCodec, tag)
	}
	return nil
}

// marshalTagged encodes {"<tag>": <payload>}.
func marshalTagged(tag string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: payload})
}

// splitTagged decodes a single-key JSON object and returns its key and raw
// value, or ErrCodec if data is not such an object.
func splitTagged(data []byte) (tag string, payload json.RawMessage, err error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one key, got %d", ErrCodec, len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	panic("unreachable")
}
