package classify

import (
	"slices"
	"strings"
	"sync"
)

// maxPendingEchoes bounds the input lines waiting to be echoed back.
const maxPendingEchoes = 16

// Options configures a Classifier. A nil Noise filter disables stage one and
// a nil Policy means Fallback.
type Options struct {
	Noise        *NoiseFilter
	Policy       *Policy
	SuppressEcho bool
}

// Classifier holds the per-run state of the pipeline. It is created for one
// subprocess run; Classify must be called with chunks in arrival order.
type Classifier struct {
	mu sync.Mutex

	noise        *NoiseFilter
	policy       *Policy
	suppressEcho bool

	seenOutput bool
	partial    string // logical line emitted so far without its newline
	pending    string // split escape sequence or rune from the last chunk
	echoes     []string
	done       bool
}

func New(opts Options) *Classifier {
	policy := opts.Policy
	if policy == nil {
		policy = Fallback()
	}
	return &Classifier{
		noise:        opts.Noise,
		policy:       policy,
		suppressEcho: opts.SuppressEcho,
	}
}

// SeenOutput reports whether real program output has been observed. Once
// true it stays true.
func (c *Classifier) SeenOutput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seenOutput
}

// ExpectEcho records a line sent to the program so the terminal's echo of it
// is dropped instead of shown twice.
func (c *Classifier) ExpectEcho(line string) {
	line = strings.TrimSpace(line)
	if !c.suppressEcho || line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.echoes) == maxPendingEchoes {
		c.echoes = c.echoes[1:]
	}
	c.echoes = append(c.echoes, line)
}

// Classify consumes one chunk of raw terminal output. Output text is split
// into lines; complete lines keep their trailing newline so the client can
// concatenate ProgramOutput texts verbatim. An unterminated fragment is
// emitted at once and later text on the same line is treated as its
// continuation. A multi-byte character split across chunks is held back
// until it is complete.
//
// Prompt detection looks at the last non-empty line of the chunk only. Earlier
// lines of the same chunk are never reported as prompts even when they would
// match. A detected InputPrompt directly follows that line's ProgramOutput.
func (c *Classifier) Classify(chunk []byte) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}

	raw, esc := splitEscape(c.pending + string(chunk))
	raw, r := splitRune(raw)
	c.pending = r + esc
	text := Strip(raw)
	if text == "" {
		return nil
	}

	segs := strings.Split(text, "\n")
	events := make([]Event, 0, len(segs)+1)
	promptAt := -1
	var promptLine string

	for i, seg := range segs {
		terminated := i < len(segs)-1
		if !terminated && seg == "" {
			break
		}
		line := c.partial + seg

		if ev, ok := c.filter(line, seg, terminated); ok {
			events = append(events, ev)
			continue
		}

		out := seg
		if terminated {
			out += "\n"
		}
		events = append(events, Event{Kind: ProgramOutput, Text: out})
		if strings.TrimSpace(line) != "" {
			promptAt = len(events) - 1
			promptLine = line
		}
		if terminated {
			c.partial = ""
		} else {
			c.partial = line
		}
	}

	if promptAt >= 0 && c.policy.IsPrompt(promptLine) {
		prompt := Event{Kind: InputPrompt, Text: promptLine}
		events = slices.Insert(events, promptAt+1, prompt)
	}
	return events
}

// filter applies echo suppression and startup-noise suppression. ok is true
// when the segment was consumed and ev replaces it.
func (c *Classifier) filter(line, seg string, terminated bool) (ev Event, ok bool) {
	if len(c.echoes) > 0 && terminated {
		want := c.echoes[0]
		c.echoes = c.echoes[1:]
		if strings.TrimSpace(seg) == want {
			// The echo ends the prompt line; keep that line break.
			if c.partial != "" {
				c.partial = ""
				return Event{Kind: ProgramOutput, Text: "\n"}, true
			}
			return Event{Kind: Noise, Text: seg}, true
		}
	}

	if c.seenOutput {
		return Event{}, false
	}
	if strings.TrimSpace(line) == "" || c.noise.Match(line) {
		if terminated {
			c.partial = ""
		}
		return Event{Kind: Noise, Text: seg}, true
	}
	c.seenOutput = true
	return Event{}, false
}

// Complete ends the run. It returns the terminal event; Classify returns
// nothing afterwards.
func (c *Classifier) Complete(exitCode int, abnormal bool) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	c.pending = ""
	c.echoes = nil
	return Event{Kind: Completed, ExitCode: exitCode, Abnormal: abnormal}
}
