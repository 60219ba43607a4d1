package providers

import "fmt"

// BuildTranscribers resolves configured provider names into an ordered
// chain, primary first.
func BuildTranscribers(names []string) ([]Transcriber, error) {
	chain := make([]Transcriber, 0, len(names))
	for _, name := range names {
		switch name {
		case "whisper":
			p, err := NewWhisperTranscriber()
			if err != nil {
				return nil, fmt.Errorf("transcriber %q: %w", name, err)
			}
			chain = append(chain, p)
		case "stub-transcriber":
			chain = append(chain, NewStubTranscriber(name))
		default:
			return nil, fmt.Errorf("unknown transcriber %q", name)
		}
	}
	return chain, nil
}

func BuildTranslators(names []string) ([]Translator, error) {
	chain := make([]Translator, 0, len(names))
	for _, name := range names {
		switch name {
		case "stub-translator":
			chain = append(chain, NewStubTranslator(name))
		default:
			return nil, fmt.Errorf("unknown translator %q", name)
		}
	}
	return chain, nil
}

func BuildSynthesizers(names []string) ([]Synthesizer, error) {
	chain := make([]Synthesizer, 0, len(names))
	for _, name := range names {
		switch name {
		case "stub-synthesizer":
			chain = append(chain, NewStubSynthesizer(name))
		default:
			return nil, fmt.Errorf("unknown synthesizer %q", name)
		}
	}
	return chain, nil
}
