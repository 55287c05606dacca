package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paleotronic/storem8/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, kind disk.Kind) (*httptest.Server, *int) {
	t.Helper()
	s := newServer(newTestVolume(t, kind))
	saves := 0
	s.save = func(*volume) error {
		saves++
		return nil
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts, &saves
}

func do(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServerFileLifecycle(t *testing.T) {
	ts, saves := newTestServer(t, disk.KindDOS33)

	resp, body := do(t, http.MethodGet, ts.URL+"/disk", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info diskInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "dos33", info.Kind)
	assert.Equal(t, disk.STD_DISK_BYTES, info.Size)
	assert.Equal(t, 528*disk.STD_BYTES_PER_SECTOR, info.Free)

	resp, body = do(t, http.MethodPut, ts.URL+"/files/HELLO?type=T", []byte("HI THERE"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, 1, *saves)

	resp, body = do(t, http.MethodGet, ts.URL+"/files/hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HI THERE", string(body))
	assert.Equal(t, "T", resp.Header.Get("X-Filetype"))

	resp, body = do(t, http.MethodGet, ts.URL+"/files?mode=native", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "HELLO", rows[0]["name"])
	assert.Equal(t, "002", rows[0]["sectors"])

	resp, _ = do(t, http.MethodDelete, ts.URL+"/files/HELLO", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 2, *saves)

	resp, _ = do(t, http.MethodGet, ts.URL+"/files/HELLO", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerErrorStatus(t *testing.T) {
	ts, saves := newTestServer(t, disk.KindDOS33)

	resp, _ := do(t, http.MethodPut, ts.URL+"/files/HUGE?type=T", bytes.Repeat([]byte{'A'}, 140000))
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/files?mode=fancy", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/files/PROG?addr=$12345", []byte{0x60})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/disk", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, 0, *saves)

	ro, _ := newTestServer(t, disk.KindRDOS)
	resp, body := do(t, http.MethodPut, ro.URL+"/files/GAME", []byte("x"))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, string(body), "cannot write files")
}

func TestServerUsage(t *testing.T) {
	ts, _ := newTestServer(t, disk.KindProDOS)
	resp, body := do(t, http.MethodGet, ts.URL+"/usage", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u usageReport
	require.NoError(t, json.Unmarshal(body, &u))
	assert.Equal(t, 16, u.Width)
	assert.Len(t, u.Used, disk.PRODOS_BLOCKS_PER_DISK)
	assert.Less(t, u.Free, disk.PRODOS_BLOCKS_PER_DISK)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", disk.ErrDiskFull):        http.StatusInsufficientStorage,
		fmt.Errorf("x: %w", disk.ErrInvalidArgument): http.StatusBadRequest,
		fmt.Errorf("x: %w", disk.ErrUnsupported):     http.StatusMethodNotAllowed,
		fmt.Errorf("x: %w", disk.ErrNotFound):        http.StatusNotFound,
		fmt.Errorf("x: %w", disk.ErrMalformed):       http.StatusInternalServerError,
		errors.New("boom"):                           http.StatusInternalServerError,
	}
	for err, code := range cases {
		assert.Equal(t, code, statusFor(err), err.Error())
	}
}
