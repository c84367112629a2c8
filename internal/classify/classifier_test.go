package classify

import (
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderelay/internal/protocol"
)

func visible(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind != Noise {
			out = append(out, ev)
		}
	}
	return out
}

func outputText(events []Event) string {
	var s string
	for _, ev := range events {
		if ev.Kind == ProgramOutput {
			s += ev.Text
		}
	}
	return s
}

func newLinux(language string, tokens []string) *Classifier {
	return New(Options{
		Noise:  MustNoiseFilter("linux"),
		Policy: NewPolicy(language, tokens),
	})
}

func TestClassify_SuppressesStartupNoise(t *testing.T) {
	c := newLinux("python", nil)

	events := c.Classify([]byte("user@host:~$ docker run --rm -i -v /tmp/x:/app python:3.12-slim sh -c 'python -u main.py'\r\n\r\nHello\r\n"))

	got := visible(events)
	require.Len(t, got, 1)
	assert.Equal(t, Event{Kind: ProgramOutput, Text: "Hello\n"}, got[0])
	assert.Equal(t, Noise, events[0].Kind)
	assert.True(t, c.SeenOutput())
}

func TestClassify_PullProgressIsNoise(t *testing.T) {
	c := newLinux("cpp", nil)
	chunk := "Unable to find image 'gcc:13' locally\r\n" +
		"13: Pulling from library/gcc\r\n" +
		"0a9573503463: Pull complete\r\n" +
		"Digest: sha256:0123abcd\r\n" +
		"Status: Downloaded newer image for gcc:13\r\n" +
		"line one\r\n"

	assert.Equal(t, "line one\n", outputText(c.Classify([]byte(chunk))))
}

func TestClassify_NoiseSuppressionIsMonotonic(t *testing.T) {
	c := newLinux("python", nil)

	c.Classify([]byte("first real line\r\n"))
	events := c.Classify([]byte("now I will docker run\r\n\r\n"))

	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: "now I will docker run\n"},
		{Kind: ProgramOutput, Text: "\n"},
	}, events)
}

func TestClassify_WindowsProfile(t *testing.T) {
	c := New(Options{Noise: MustNoiseFilter("windows")})
	chunk := "Microsoft Windows [Version 10.0.19045.3693]\r\n" +
		"(c) Microsoft Corporation. All rights reserved.\r\n" +
		"\r\n" +
		"C:\\Users\\dev>docker run --rm -i -v C:\\tmp:/app node:20-slim sh -c \"node main.js\"\r\n" +
		"hi from node\r\n"

	assert.Equal(t, "hi from node\n", outputText(c.Classify([]byte(chunk))))
}

func TestClassify_ExtraNoisePattern(t *testing.T) {
	c := New(Options{Noise: MustNoiseFilter("linux", `^Welcome to the sandbox`)})
	assert.Equal(t, "ok\n", outputText(c.Classify([]byte("Welcome to the sandbox v2\nok\n"))))
}

func TestClassify_PromptFollowsItsOutput(t *testing.T) {
	c := newLinux("python", nil)

	events := c.Classify([]byte("Enter your name: "))

	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: "Enter your name: "},
		{Kind: InputPrompt, Text: "Enter your name: "},
	}, events)
}

func TestClassify_OnlyLastLineIsPromptChecked(t *testing.T) {
	c := newLinux("python", nil)

	events := c.Classify([]byte("Menu:\r\n1) start\r\nChoice? "))

	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: "Menu:\n"},
		{Kind: ProgramOutput, Text: "1) start\n"},
		{Kind: ProgramOutput, Text: "Choice? "},
		{Kind: InputPrompt, Text: "Choice? "},
	}, events)
}

func TestClassify_PromptInsertedAfterCandidateLine(t *testing.T) {
	c := newLinux("cpp", nil)
	c.Classify([]byte("start\n"))

	events := c.Classify([]byte("Value:\n\n"))

	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: "Value:\n"},
		{Kind: InputPrompt, Text: "Value:"},
		{Kind: ProgramOutput, Text: "\n"},
	}, events)
}

func TestClassify_PlainOutputIsNotPrompt(t *testing.T) {
	c := newLinux("python", nil)
	events := c.Classify([]byte("Hello world\r\n"))
	assert.Equal(t, []Event{{Kind: ProgramOutput, Text: "Hello world\n"}}, events)
}

func TestClassify_ContinuationIsSameLine(t *testing.T) {
	c := newLinux("python", nil)

	first := c.Classify([]byte("Enter"))
	assert.Equal(t, []Event{{Kind: ProgramOutput, Text: "Enter"}}, first)

	second := c.Classify([]byte(" a number"))
	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: " a number"},
		{Kind: InputPrompt, Text: "Enter a number"},
	}, second)
}

func TestClassify_OrderAcrossChunks(t *testing.T) {
	c := newLinux("cpp", nil)
	var all []Event
	for _, chunk := range []string{"one\r\n", "two\r\n", "three\r\n"} {
		all = append(all, c.Classify([]byte(chunk))...)
	}
	assert.Equal(t, "one\ntwo\nthree\n", outputText(all))
	assert.Len(t, visible(all), 3)
}

func TestClassify_StripsEscapes(t *testing.T) {
	c := newLinux("python", nil)
	events := c.Classify([]byte("\x1b[?2004h\x1b[32mgreen\x1b[0m\r\n"))
	assert.Equal(t, "green\n", outputText(events))
}

func TestClassify_SplitEscapeSequence(t *testing.T) {
	c := newLinux("python", nil)
	c.Classify([]byte("ready\n"))

	assert.Empty(t, visible(c.Classify([]byte("\x1b[3"))))
	events := c.Classify([]byte("2mhi\x1b[0m\n"))
	assert.Equal(t, []Event{{Kind: ProgramOutput, Text: "hi\n"}}, events)
}

func TestClassify_SplitMultibyteRune(t *testing.T) {
	c := newLinux("python", nil)
	c.Classify([]byte("ready\n"))

	var got string
	for _, chunk := range []string{"caf\xc3", "\xa9 \xe2\x82", "\xac5\r\n"} {
		for _, ev := range c.Classify([]byte(chunk)) {
			if ev.Kind != ProgramOutput {
				continue
			}
			require.True(t, utf8.ValidString(ev.Text), "%q", ev.Text)
			data, err := json.Marshal(protocol.NewOutput(ev.Text))
			require.NoError(t, err)
			var msg protocol.ServerMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			got += msg.Data
		}
	}
	assert.Equal(t, "café €5\n", got)
}

func TestSplitRune(t *testing.T) {
	tests := []struct {
		in, complete, pending string
	}{
		{"", "", ""},
		{"abc", "abc", ""},
		{"caf\xc3", "caf", "\xc3"},
		{"caf\xc3\xa9", "caf\xc3\xa9", ""},
		{"x\xf0\x9f\x98", "x", "\xf0\x9f\x98"},
		{"x\xf0\x9f\x98\x80", "x\xf0\x9f\x98\x80", ""},
		{"bad\xff", "bad\xff", ""},
	}
	for _, tt := range tests {
		complete, pending := splitRune(tt.in)
		assert.Equal(t, tt.complete, complete, "%q", tt.in)
		assert.Equal(t, tt.pending, pending, "%q", tt.in)
	}
}

func TestClassify_EchoSuppression(t *testing.T) {
	c := New(Options{
		Noise:        MustNoiseFilter("linux"),
		Policy:       NewPolicy("python", []string{"input("}),
		SuppressEcho: true,
	})
	c.Classify([]byte("Name: "))
	c.ExpectEcho("Alice\n")

	events := c.Classify([]byte("Alice\r\nHi Alice\r\n"))

	assert.Equal(t, []Event{
		{Kind: ProgramOutput, Text: "\n"},
		{Kind: ProgramOutput, Text: "Hi Alice\n"},
	}, events)
}

func TestClassify_EchoIgnoredWhenDisabled(t *testing.T) {
	c := newLinux("python", nil)
	c.Classify([]byte("go\n"))
	c.ExpectEcho("42")

	assert.Equal(t, "42\n", outputText(c.Classify([]byte("42\r\n"))))
}

func TestComplete_IsTerminal(t *testing.T) {
	c := newLinux("python", nil)
	c.Classify([]byte("bye\n"))

	ev := c.Complete(3, false)
	assert.Equal(t, Event{Kind: Completed, ExitCode: 3}, ev)
	assert.Nil(t, c.Classify([]byte("late output\n")))
}

func TestClassify_NilNoiseStillDropsLeadingBlankLines(t *testing.T) {
	c := New(Options{})
	events := c.Classify([]byte("\r\n\r\ndocker run is text here\n"))
	assert.Equal(t, "docker run is text here\n", outputText(events))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "noise", Noise.String())
	assert.Equal(t, "program_output", ProgramOutput.String())
	assert.Equal(t, "input_prompt", InputPrompt.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
