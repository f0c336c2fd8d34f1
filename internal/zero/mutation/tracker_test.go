// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mutation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessPushResponseSettles(t *testing.T) {
	tr := New(nil)
	ch := tr.TrackMutation("eph-1")
	tr.MutationIDAssigned("eph-1", "client-1", 5)

	require.True(t, tr.ProcessPushResponse(5, true, Result{}))
	res := <-ch
	require.NoError(t, res.Err)
}

func TestDoubleOkIsProtocolError(t *testing.T) {
	tr := New(nil)
	tr.TrackMutation("eph-1")
	tr.MutationIDAssigned("eph-1", "client-1", 5)

	require.True(t, tr.ProcessPushResponse(5, true, Result{}))
	require.False(t, tr.ProcessPushResponse(5, true, Result{}))
}

func TestLmidAdvancedSettlesAndFiresCallback(t *testing.T) {
	fired := 0
	tr := New(func() { fired++ })

	tr.TrackMutation("eph-1")
	tr.MutationIDAssigned("eph-1", "client-1", 3)
	ch := tr.TrackMutation("eph-2")
	tr.MutationIDAssigned("eph-2", "client-1", 4)

	tr.LmidAdvanced(3)
	require.Equal(t, 0, fired, "still one outstanding above lmid")

	tr.LmidAdvanced(4)
	require.Equal(t, 1, fired)
	res := <-ch
	require.NoError(t, res.Err)
}

func TestRejectMutationBeforeAssignment(t *testing.T) {
	tr := New(nil)
	ch := tr.TrackMutation("eph-1")
	tr.RejectMutation("eph-1", require.AnError)

	res := <-ch
	require.Error(t, res.Err)
}
