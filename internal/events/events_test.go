package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsIDAndTimestamp(t *testing.T) {
	ev := New(TypeVerificationStarted, "ardrive")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeVerificationStarted, ev.Type)
	assert.Equal(t, "ardrive", ev.Identifier)
	assert.False(t, ev.Timestamp.IsZero())

	assert.NotEqual(t, ev.ID, New(TypeVerificationStarted, "ardrive").ID)
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	var a, b []string
	unsubA := bus.Subscribe(func(ev Event) { a = append(a, ev.Type) })
	bus.Subscribe(func(ev Event) { b = append(b, ev.Type) })

	bus.Publish(New(TypeVerificationStarted, "x"))
	unsubA()
	bus.Publish(New(TypeVerificationComplete, "x"))

	assert.Equal(t, []string{TypeVerificationStarted}, a)
	assert.Equal(t, []string{TypeVerificationStarted, TypeVerificationComplete}, b)
}

func TestMulti(t *testing.T) {
	bus1, bus2 := NewBus(), NewBus()
	var n int
	bus1.Subscribe(func(Event) { n++ })
	bus2.Subscribe(func(Event) { n++ })

	Multi{bus1, bus2, Nop{}}.Publish(New(TypeManifestLoaded, "x"))
	assert.Equal(t, 2, n)
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	sink := NewJSONLSink(path)

	ev1 := New(TypeVerificationStarted, "ardrive")
	ev2 := New(TypeVerificationProgress, "ardrive")
	ev2.Current, ev2.Total = 1, 3
	sink.Publish(ev1)
	sink.Publish(ev2)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		got = append(got, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, got, 2)
	assert.Equal(t, ev1.ID, got[0].ID)
	assert.Equal(t, TypeVerificationProgress, got[1].Type)
	assert.Equal(t, 1, got[1].Current)
	assert.Equal(t, 3, got[1].Total)
}
