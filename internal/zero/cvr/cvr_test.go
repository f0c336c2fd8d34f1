// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package cvr

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffComputesHydrateAndRemoveSets(t *testing.T) {
	desired := map[string]QueryRef{"a": {}, "b": {}}
	got := map[string]QueryRef{"b": {}, "c": {}}

	toHydrate, toRemove := Diff(desired, got)
	sort.Strings(toHydrate)
	sort.Strings(toRemove)

	require.Equal(t, []string{"a"}, toHydrate)
	require.Equal(t, []string{"c"}, toRemove)
}
