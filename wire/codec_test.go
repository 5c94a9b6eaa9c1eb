// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "hello", "s.py", "héllo wörld", "0x1234"}
	for _, s := range cases {
		var buf bytes.Buffer
		w := NewFrame(NewTag("TEST"))
		w.WriteString(s)
		require.NoError(t, w.WriteRawTo(&buf))

		r := NewReader(&buf)
		tag, err := r.ReadTag()
		require.NoError(t, err)
		assert.Equal(t, "TEST", tag.String())

		got, err := r.ReadRequiredString()
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestOptionalStringNull(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrame(NewTag("TEST"))
	w.WriteOptionalString(nil)
	require.NoError(t, w.WriteRawTo(&buf))

	r := NewReader(&buf)
	_, err := r.ReadTag()
	require.NoError(t, err)

	got, err := r.ReadString()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFramedEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	evt := BreakpointHitEvt{ID: 7, ThreadID: 1001}
	require.NoError(t, evt.Encode().WriteFramedTo(&buf))

	tag, r, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, EvtBreakpointHit, tag)

	got, err := DecodeBreakpointHit(r)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
}

func TestRawCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cmd := SetBreakpointCmd{ID: 7, Line: 2, File: "s.py", Condition: "i", BreakOnChange: true}
	require.NoError(t, cmd.Encode().WriteRawTo(&buf))

	r := NewReader(&buf)
	tag, err := r.ReadTag()
	require.NoError(t, err)
	assert.Equal(t, CmdSetBreakpoint, tag)

	got, err := DecodeSetBreakpoint(r)
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestThreadFramesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	evt := ThreadFramesEvt{
		ThreadID: 1,
		Name:     "MainThread",
		Frames: []WireFrame{
			{FirstLine: 1, Line: 2, CurLine: 2, Name: "<module>", File: "/abs/s.py", ArgCount: 0, Variables: []string{"x"}},
		},
	}
	require.NoError(t, evt.Encode().WriteFramedTo(&buf))

	tag, r, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, EvtThreadFrames, tag)

	got, err := DecodeThreadFrames(r)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
}

func TestEvalResultObjectRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	evt := EvalResultEvt{EvalID: 42, Result: Object{Repr: "2", TypeName: "int", Expandable: false}}
	require.NoError(t, evt.Encode().WriteFramedTo(&buf))

	tag, r, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, EvtEvalResult, tag)

	got, err := DecodeEvalResult(r)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
}

func TestReadFrameRejectsShortLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1}) // length shorter than a tag
	_, _, err := ReadFrame(&buf)
	assert.Error(t, err)
}
