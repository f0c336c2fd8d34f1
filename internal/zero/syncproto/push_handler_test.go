// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package syncproto

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushHandlerRejectsUnsupportedVersion(t *testing.T) {
	h := NewPushHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/push?pushVersion=2", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unsupportedPushVersion")
}

func TestPushHandlerRejectsMalformedBody(t *testing.T) {
	h := NewPushHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/push?pushVersion=1", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"http"`)
}

func TestPushHandlerRejectsMissingClientGroupID(t *testing.T) {
	h := NewPushHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/push?pushVersion=1", strings.NewReader(`{"mutations":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
