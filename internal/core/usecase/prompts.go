package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/verified-rag/internal/core/domain"
)

const (
	noClaimsSentinel          = "NO_CLAIMS"
	fullCoverageSentinel      = "FULL_COVERAGE"
	noHallucinationsSentinel  = "NO_HALLUCINATIONS"
	hallucinationLinePrefix   = "HALLUCINATION:"
	evidenceLabelFormat       = "EVID_%02d"
	defaultSynthesisWordLimit = 450
)

const claimExtractionSystemPrompt = `Sei un estrattore di fatti per documenti amministrativi.
Regole obbligatorie:
1. Estrai SOLO affermazioni atomiche esplicitamente presenti nelle evidenze, riportate in modo letterale o quasi letterale.
2. NON fare inferenze, NON usare conoscenze esterne, NON combinare fatti che non compaiono insieme nella stessa evidenza.
3. Ogni affermazione deve essere verificabile e contenere un solo fatto.
4. Formato: una riga per affermazione, "[CLAIM_001] testo {EVID_01}", con numerazione sequenziale e tra graffe le evidenze da cui proviene.
5. Se nessuna affermazione soddisfa le regole rispondi esattamente: NO_CLAIMS
Non aggiungere altro testo.`

const gapDetectionSystemPrompt = `Sei un revisore che verifica la copertura di una domanda.
Scomponi la domanda nelle sue parti e, per ciascuna, controlla se esiste almeno un'affermazione che vi risponde.
Formato di risposta:
- se ogni parte è coperta rispondi esattamente: FULL_COVERAGE
- altrimenti una riga per parte scoperta: "[GAP_01] descrizione della parte non coperta"
Non aggiungere altro testo.`

const hostileCheckSystemPrompt = `Sei un verificatore ostile e massimamente scettico.
Ricevi una risposta e l'elenco delle sole affermazioni verificate ammesse.
Segnala OGNI frase fattuale della risposta che non sia riconducibile parola per parola, o quasi, a un'affermazione dell'elenco.
Non segnalare formule di cortesia o frasi che dichiarano l'assenza di informazioni.
Formato: una riga per frase, "HALLUCINATION: frase", oppure esattamente NO_HALLUCINATIONS se non ne trovi.`

func evidenceLabel(n int) string {
	return fmt.Sprintf(evidenceLabelFormat, n)
}

func buildClaimExtractionMessages(evidence []domain.VerifiedEvidence, maxChars int) []domain.ChatMessage {
	var b strings.Builder
	b.WriteString("Evidenze:\n\n")
	for idx, item := range evidence {
		fmt.Fprintf(&b, "[%s] fonte=%s\n%s\n\n", evidenceLabel(idx+1), item.Source, truncateRunes(item.Content, maxChars))
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: claimExtractionSystemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

func buildGapDetectionMessages(question string, claims []domain.Claim) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: gapDetectionSystemPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf("Domanda:\n%s\n\nAffermazioni disponibili:\n%s", question, renderClaims(claims))},
	}
}

func buildSynthesisMessages(question string, claims []domain.Claim, gaps []domain.Gap, maxWords int) []domain.ChatMessage {
	if maxWords <= 0 {
		maxWords = defaultSynthesisWordLimit
	}
	system := fmt.Sprintf(`Sei un funzionario che redige risposte ufficiali.
Regole obbligatorie:
1. Usa SOLO le affermazioni fornite; non aggiungere fatti, numeri, date o nomi.
2. Ogni frase fattuale deve citare l'affermazione usata nel formato (CLAIM_001); più affermazioni come (CLAIM_001, CLAIM_002).
3. Per ogni parte della domanda non coperta scrivi esattamente: "%s"
4. Registro formale amministrativo, in italiano, al massimo %d parole.`, domain.GapSentence, maxWords)

	var user strings.Builder
	fmt.Fprintf(&user, "Domanda:\n%s\n\nAffermazioni:\n%s", question, renderClaims(claims))
	if len(gaps) > 0 {
		user.WriteString("\nParti non coperte:\n")
		for _, gap := range gaps {
			fmt.Fprintf(&user, "[%s] %s\n", gap.ID, gap.Description)
		}
	}

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: user.String()},
	}
}

func buildHostileCheckMessages(answer string, claims []domain.Claim) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: hostileCheckSystemPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf("Affermazioni verificate:\n%s\nRisposta da verificare:\n%s", renderClaims(claims), answer)},
	}
}

func renderClaims(claims []domain.Claim) string {
	var b strings.Builder
	for _, claim := range claims {
		b.WriteString(claim.String())
		b.WriteByte('\n')
	}
	return b.String()
}
