package crontab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingle_Load(t *testing.T) {
	s := Single{Line: "*/2 10 * * 1-5 blah foo"}
	tbl, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "*/2 10 * * 1-5", tbl.Entries()[0].Spec)
	assert.Equal(t, "blah foo", tbl.Entries()[0].Command)
	assert.Equal(t, "*/2 10 * * 1-5 blah foo", s.String())

	_, err = Single{Line: "bad"}.Load()
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Single{Line: "# only comment"}.Load()
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = s.Changes(context.Background())
	assert.Error(t, err)
}
