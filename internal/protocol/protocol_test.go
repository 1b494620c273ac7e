package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmb/qmanager/internal/job"
)

func roundTripRequest(t *testing.T, r Request) Request {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	var out Request
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func roundTripResponse(t *testing.T, r Response) Response {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	var out Response
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		SubmitJobRequest("echo hello"),
		RemoveJobRequest(5),
		KillJobRequest(7),
		GetQueuedJobsRequest(),
		GetFinishedJobsRequest(),
		SetQueueStateRequest(job.QueueRunning),
		GetQueueStateRequest(),
	}
	for _, c := range cases {
		got := roundTripRequest(t, c)
		assert.Equal(t, c, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	now := job.ID(1)
	j := &job.Job{ID: now, Cmdline: "echo hi", Status: job.StatusQueued}
	cases := []Response{
		SubmitJobResponse(3),
		GetJobsResponse([]*job.Job{j}),
		GetJobResponse(j),
		ErrorResponse("boom"),
		QueueStateResponse(job.QueueStopped),
		OkResponse(),
	}
	for _, c := range cases {
		got := roundTripResponse(t, c)
		assert.Equal(t, c, got)
	}
}

func TestWireTagNames(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{SubmitJobRequest("echo hi"), `{"SubmitJob":"echo hi"}`},
		{RemoveJobRequest(4), `{"RemoveJob":4}`},
		{KillJobRequest(4), `{"KillJob":4}`},
		{GetQueuedJobsRequest(), `"GetQueuedJobs"`},
		{GetFinishedJobsRequest(), `"GetFinishedJobs"`},
		{GetQueueStateRequest(), `"GetQueueState"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.req)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(data))
	}
}

func TestResponseWireTagNames(t *testing.T) {
	data, err := json.Marshal(OkResponse())
	require.NoError(t, err)
	assert.Equal(t, `"Ok"`, string(data))

	data, err = json.Marshal(ErrorResponse("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Error":"nope"}`, string(data))
}

func TestQueueStateWireValuesAreCapitalized(t *testing.T) {
	data, err := json.Marshal(QueueStateResponse(job.QueueStopping))
	require.NoError(t, err)
	assert.JSONEq(t, `{"QueueState":"Stopping"}`, string(data))
}

func TestDecodeMalformedRequestIsCodecError(t *testing.T) {
	var r Request
	err := json.Unmarshal([]byte(`{"NotARealTag": 1}`), &r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeEmptyObjectIsCodecError(t *testing.T) {
	var r Request
	err := json.Unmarshal([]byte(`{}`), &r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeGarbageIsCodecError(t *testing.T) {
	var r Request
	err := json.Unmarshal([]byte(`not json at all`), &r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCodec)
}
