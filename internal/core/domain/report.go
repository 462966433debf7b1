package domain

import "fmt"

const (
	// InsufficientInformationMessage is the only text shown for rejected answers.
	InsufficientInformationMessage = "Non sono disponibili informazioni verificate sufficienti per rispondere alla domanda."
	// GapSentence is emitted verbatim for every uncovered part of a question.
	GapSentence = "Le informazioni disponibili non consentono di rispondere a questa parte della domanda."
)

type Gap struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type GapReport = Findings[Gap]

func GapID(n int) string {
	return fmt.Sprintf("GAP_%02d", n)
}

// WholeQuestionGap is the single gap reported when nothing in the question is covered.
func WholeQuestionGap(question string) Gap {
	return Gap{
		ID:          GapID(1),
		Description: fmt.Sprintf("Nessuna informazione verificata copre la domanda: %q", question),
	}
}

type Hallucination struct {
	Statement string `json:"statement"`
}

type HallucinationReport = Findings[Hallucination]

type SynthesizedAnswer struct {
	Text          string   `json:"text"`
	CitedClaimIDs []string `json:"citedClaimIds"`
}

type ReliabilityResult struct {
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}
