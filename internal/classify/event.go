// Package classify turns raw terminal output of a sandboxed program into
// ordered events: noise to discard, program output, input prompts and the
// final completion.
package classify

type Kind int

const (
	Noise Kind = iota
	ProgramOutput
	InputPrompt
	Completed
)

func (k Kind) String() string {
	switch k {
	case Noise:
		return "noise"
	case ProgramOutput:
		return "program_output"
	case InputPrompt:
		return "input_prompt"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is one classified unit. Text is set for Noise, ProgramOutput and
// InputPrompt; ExitCode and Abnormal only for Completed.
type Event struct {
	Kind     Kind
	Text     string
	ExitCode int
	Abnormal bool
}
