package util_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/onflow/sectionnet/module/util"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestAllClosed(t *testing.T) {
	a, b := make(chan struct{}), make(chan struct{})
	done := util.AllClosed(a, b)
	close(a)
	assert.False(t, util.CheckClosed(done))
	close(b)
	unittest.RequireClosed(t, done, time.Second, "all channels closed")
}

func TestWaitError(t *testing.T) {
	errs := make(chan error, 1)
	done := make(chan struct{})
	expected := errors.New("fatal")
	errs <- expected
	close(done)
	assert.ErrorIs(t, util.WaitError(errs, done), expected)

	assert.NoError(t, util.WaitError(make(chan error), done))
}
