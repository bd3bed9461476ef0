package domain

// Persona is a virtual teacher. Values are built once at start-up and never
// mutated afterwards.
type Persona struct {
	Key         string
	DisplayName string
	Subject     string
	Color       string
	ImageName   string

	Style         string
	ToneRules     string
	Greeting      string
	Interjections []string
	FewShot       []Message

	// Fallback is the canned consult reply used when the LLM is unavailable.
	// %s receives the student's text.
	Fallback string
}
