// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func nodesWithLayers(layers ...uint64) *Topology {
	t := new(Topology)
	for i, l := range layers {
		t.MixNodes = append(t.MixNodes, MixNodePresence{
			Host:  fmt.Sprintf("10.0.%d.%d:1789", l, i),
			Layer: l,
		})
	}
	return t
}

func TestBuild(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	topo := nodesWithLayers(2, 1, 3, 1, 2, 3, 1)
	l, err := Build(topo)
	require.NoError(err)
	require.Equal(3, l.Len())

	// Discovery order is kept within a layer.
	require.Len(l.Layer(1), 3)
	require.Equal("10.0.1.1:1789", l.Layer(1)[0].Host)
	require.Equal("10.0.1.3:1789", l.Layer(1)[1].Host)
	require.Equal("10.0.1.6:1789", l.Layer(1)[2].Host)
	require.Equal("10.0.2.0:1789", l.Layer(2)[0].Host)
	require.Equal("10.0.3.5:1789", l.Layer(3)[1].Host)

	for n := 1; n <= l.Len(); n++ {
		for _, node := range l.Layer(n) {
			require.Equal(uint64(n), node.Layer)
		}
	}

	require.Nil(l.Layer(0))
	require.Nil(l.Layer(4))
}

func TestBuildIntegrity(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	for _, layers := range [][]uint64{
		{1, 3},
		{2, 3},
		{1, 1, 4, 2},
		{0, 1},
		{},
	} {
		_, err := Build(nodesWithLayers(layers...))
		var integrityErr *IntegrityError
		require.ErrorAs(err, &integrityErr, "layers %v", layers)
	}

	_, err := Build(new(Topology))
	require.ErrorIs(err, ErrNoMixNodes)

	_, err = Build(nodesWithLayers(1, 3))
	require.ErrorIs(err, errMissingLayer)
}

func TestFromLayersEmptyLayer(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	node := &MixNodePresence{Host: "10.0.0.1:1789", Layer: 1}
	_, err := FromLayers(map[uint64][]*MixNodePresence{
		1: {node},
		2: {},
	})
	var integrityErr *IntegrityError
	require.ErrorAs(err, &integrityErr)
	require.Equal(uint64(2), integrityErr.Layer)
	require.ErrorIs(err, errEmptyLayer)
}
