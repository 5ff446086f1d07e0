package enums

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Parse(t *testing.T) {
	for i, name := range JobStatusNames {
		st, err := ParseJobStatus(name)
		require.NoError(t, err)
		assert.Equal(t, JobStatusValues[i], st)
		assert.Equal(t, name, st.String())
	}

	st, err := ParseJobStatus("FAILED")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, st)

	_, err = ParseJobStatus("blah")
	assert.EqualError(t, err, "invalid jobStatus: blah")
	assert.Panics(t, func() { MustJobStatus("blah") })
}

func TestJobStatus_Scan(t *testing.T) {
	var st JobStatus
	require.NoError(t, st.Scan("skipped"))
	assert.Equal(t, JobStatusSkipped, st)
	require.NoError(t, st.Scan([]byte("success")))
	assert.Equal(t, JobStatusSuccess, st)
	require.NoError(t, st.Scan(nil))
	assert.Equal(t, JobStatusIdle, st)
	assert.Error(t, st.Scan(123))

	v, err := JobStatusFailed.Value()
	require.NoError(t, err)
	assert.Equal(t, "failed", v)
}

func TestJobStatus_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Status JobStatus `json:"status"`
	}{Status: JobStatusRunning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running"}`, string(data))

	var res struct {
		Status JobStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"failed"}`), &res))
	assert.Equal(t, JobStatusFailed, res.Status)
}
