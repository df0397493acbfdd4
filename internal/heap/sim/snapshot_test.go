package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goextract/internal/heap"
)

const testSnapshot = `
quiet_after: 1
object_bases: [UnityEngine.Object]
classes:
  - name: Stats
    shape: struct
    fields:
      - {name: hp, type: int, offset: 0}
      - {name: speed, type: float, offset: 4}
  - name: Widget
    parent: UnityEngine.Object
    fields:
      - {name: id, type: string, offset: 24}
      - {name: stats, type: Stats, offset: 32}
      - {name: buddy, type: Widget, offset: 40}
      - {name: tags, type: "string[]", offset: 48}
objects:
  - id: w1
    class: Widget
    name: Sword
    fields:
      id: W1
      stats: {hp: 10, speed: 1.5}
      buddy: "@w2"
      tags: [sharp, shiny]
  - id: w2
    class: Widget
    dead: true
    fields:
      id: W2
loaders:
  authoritative:
    Widget: [w1, w2]
  paths:
    Data/Widgets: [w1]
`

func TestParseSnapshot(t *testing.T) {
	h, err := ParseSnapshot([]byte(testSnapshot))
	require.NoError(t, err)

	w1, ok := h.Ref("w1")
	require.True(t, ok)
	w2, ok := h.Ref("w2")
	require.True(t, ok)

	hp, err := heap.ReadInt(h, w1.Offset(32), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), hp)

	speed, err := heap.ReadFloat32(h, w1.Offset(36))
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), speed)

	buddy, err := heap.ReadPtr(h, w1.Offset(40))
	require.NoError(t, err)
	assert.Equal(t, w2, buddy)

	native, err := heap.ReadPtr(h, w2.Offset(16))
	require.NoError(t, err)
	assert.Zero(t, native, "dead objects have a zero native handle")

	kind, _ := h.FindClass("Widget")
	found, err := h.LoadAuthoritative(kind)
	require.NoError(t, err)
	assert.Equal(t, []heap.Addr{w1, w2}, found)

	assert.False(t, h.Quiescent())
	assert.True(t, h.Quiescent())
}

func TestParseSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "classes: [\n"},
		{"unknown class", "objects:\n  - {id: a, class: Nope}\n"},
		{"missing id", "classes: [{name: A}]\nobjects:\n  - {class: A}\n"},
		{"duplicate id", "classes: [{name: A}]\nobjects:\n  - {id: a, class: A}\n  - {id: a, class: A}\n"},
		{"unknown loader id", "classes: [{name: A}]\nloaders:\n  authoritative: {A: [ghost]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadSnapshot_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSnapshot), 0644))

	h, err := LoadSnapshot(path)
	require.NoError(t, err)
	_, ok := h.Ref("w1")
	assert.True(t, ok)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
