// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package namemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	m := New(map[string]TableMapping{
		"issue": {
			ServerName: "core_issue",
			Columns: map[string]string{
				"createdAt": "created_at",
				"title":     "title",
			},
		},
	})

	serverRow := map[string]any{"created_at": 1.0, "title": "hello"}
	clientRow, err := m.ServerToClient("core_issue", serverRow)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"createdAt": 1.0, "title": "hello"}, clientRow)

	roundTripped, err := m.ClientToServer("issue", clientRow)
	require.NoError(t, err)
	require.Equal(t, serverRow, roundTripped)
}

func TestUnknownTable(t *testing.T) {
	m := New(nil)
	_, err := m.ServerTable("missing")
	require.Error(t, err)
}
