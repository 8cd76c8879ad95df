package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOversell(t *testing.T) {
	ok := Result{Status: http.StatusOK}
	conflict := Result{Status: http.StatusConflict}
	failed := Result{Err: errors.New("boom")}

	assert.NoError(t, checkOversell(2, 0, []Result{ok, ok, conflict, failed}))
	assert.NoError(t, checkOversell(3, 1, []Result{ok, conflict, ok}))
	assert.Error(t, checkOversell(1, 0, []Result{ok, ok}))
	assert.Error(t, checkOversell(3, 0, []Result{ok, ok}))
	// 剩余数查询失败时只校验上限
	assert.NoError(t, checkOversell(3, -1, []Result{ok, ok}))
}
